package util_test

import (
	"testing"

	"github.com/mazroni9/dasm-live-engine/internal/util"
	"github.com/stretchr/testify/require"
)

func TestFormatMoney(t *testing.T) {
	rq := require.New(t)

	rq.Equal("0 SAR", util.FormatMoney(0))
	rq.Equal("999 SAR", util.FormatMoney(999))
	rq.Equal("1,000 SAR", util.FormatMoney(1_000))
	rq.Equal("85,000 SAR", util.FormatMoney(85_000))
	rq.Equal("1,000,000 SAR", util.FormatMoney(1_000_000))
}
