package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

func TestJWTMaker(t *testing.T) {
	rq := require.New(t)

	maker, err := NewJWTMaker(testSecretKey)
	rq.NoError(err)

	tokenString, payload, err := maker.CreateToken("bidder-1", engine.RoleBidder, time.Minute)
	rq.NoError(err)
	rq.NotEmpty(tokenString)
	rq.NotNil(payload)

	payload, err = maker.VerifyToken(tokenString)
	rq.NoError(err)
	rq.Equal("bidder-1", payload.Subject)
	rq.Equal(engine.RoleBidder, payload.Role)
	rq.NotEmpty(payload.ID)
}

func TestJWTMakerShortSecret(t *testing.T) {
	_, err := NewJWTMaker(strings.Repeat("x", minSecretKeySize-1))
	require.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	rq := require.New(t)

	maker, err := NewJWTMaker(testSecretKey)
	rq.NoError(err)

	tokenString, _, err := maker.CreateToken("bidder-1", engine.RoleBidder, -time.Minute)
	rq.NoError(err)

	_, err = maker.VerifyToken(tokenString)
	rq.ErrorIs(err, ErrExpiredToken)
}

func TestInvalidTokenAlgNone(t *testing.T) {
	rq := require.New(t)

	payload, err := NewPayload("bidder-1", engine.RoleAuctioneer, time.Minute)
	rq.NoError(err)

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodNone, payload)
	tokenString, err := jwtToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	rq.NoError(err)

	maker, err := NewJWTMaker(testSecretKey)
	rq.NoError(err)

	_, err = maker.VerifyToken(tokenString)
	rq.ErrorIs(err, ErrInvalidToken)
}
