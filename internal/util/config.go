package util

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AllowedOrigins     []string `mapstructure:"ALLOWED_ORIGINS"`
	HTTPServerAddress  string   `mapstructure:"HTTP_SERVER_ADDRESS"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	RedisServerAddress string   `mapstructure:"REDIS_SERVER_ADDRESS"`
	TokenSecretKey     string   `mapstructure:"TOKEN_SECRET_KEY"`

	BidQueueDepth       int           `mapstructure:"BID_QUEUE_DEPTH"`
	BidSubmitTimeout    time.Duration `mapstructure:"BID_SUBMIT_TIMEOUT"`
	BidHistoryWindow    int           `mapstructure:"BID_HISTORY_WINDOW"`
	LotIdleCloseAfter   time.Duration `mapstructure:"LOT_IDLE_CLOSE_AFTER"`
	SubscriberQueueSize int           `mapstructure:"SUBSCRIBER_QUEUE_SIZE"`
	EventReplayWindow   int           `mapstructure:"EVENT_REPLAY_WINDOW"`

	PingInterval   time.Duration `mapstructure:"PING_INTERVAL"`
	PongWait       time.Duration `mapstructure:"PONG_WAIT"`
	MaxMissedPings int           `mapstructure:"MAX_MISSED_PINGS"`
	ResumeTokenTTL time.Duration `mapstructure:"RESUME_TOKEN_TTL"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	// Set defaults for non-sensitive config
	viper.SetDefault("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	viper.SetDefault("HTTP_SERVER_ADDRESS", "0.0.0.0:8080")
	viper.SetDefault("BID_QUEUE_DEPTH", 256)
	viper.SetDefault("BID_SUBMIT_TIMEOUT", "2s")
	viper.SetDefault("BID_HISTORY_WINDOW", 50)
	viper.SetDefault("LOT_IDLE_CLOSE_AFTER", "0s")
	viper.SetDefault("SUBSCRIBER_QUEUE_SIZE", 64)
	viper.SetDefault("EVENT_REPLAY_WINDOW", 128)
	viper.SetDefault("PING_INTERVAL", "25s")
	viper.SetDefault("PONG_WAIT", "60s")
	viper.SetDefault("MAX_MISSED_PINGS", 2)
	viper.SetDefault("RESUME_TOKEN_TTL", "15m")

	// Prefer environment variables over config file
	viper.AutomaticEnv()

	// Load config file
	viper.SetConfigFile(path)
	if err = viper.ReadInConfig(); err != nil {
		return
	}

	// Unmarshal config into struct
	err = viper.UnmarshalExact(&config)
	if err != nil {
		return
	}

	// Validate required configuration
	err = validateConfig(config)
	return
}

func validateConfig(config Config) error {
	if config.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if config.RedisServerAddress == "" {
		return fmt.Errorf("REDIS_SERVER_ADDRESS is required")
	}
	if config.TokenSecretKey == "" {
		return fmt.Errorf("TOKEN_SECRET_KEY is required")
	}
	if config.BidQueueDepth <= 0 {
		return fmt.Errorf("BID_QUEUE_DEPTH must be greater than 0")
	}
	if config.BidSubmitTimeout <= 0 {
		return fmt.Errorf("BID_SUBMIT_TIMEOUT must be greater than 0")
	}

	return nil
}
