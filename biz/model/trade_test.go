package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTradeSettle(t *testing.T) {
	tr := &Trade{
		EntryPrice: decimal.RequireFromString("100"),
		ExitPrice:  decimal.RequireFromString("110"),
		Quantity:   decimal.RequireFromString("2"),
		EntryTime:  1_000,
		ExitTime:   61_000,
	}
	tr.Settle(decimal.RequireFromString("0.001"))

	// (100+110)*2*0.001 = 0.42
	assert.True(t, tr.Fee.Equal(decimal.RequireFromString("0.42")), tr.Fee.String())
	// (110-100)*2 - 0.42 = 19.58
	assert.True(t, tr.PnL.Equal(decimal.RequireFromString("19.58")), tr.PnL.String())
	assert.Equal(t, int64(60_000), tr.DurationMs)
}

func TestTradeSettleLossAndClockSkew(t *testing.T) {
	tr := &Trade{
		EntryPrice: decimal.RequireFromString("50"),
		ExitPrice:  decimal.RequireFromString("45"),
		Quantity:   decimal.RequireFromString("1"),
		EntryTime:  5_000,
		ExitTime:   4_000,
	}
	tr.Settle(decimal.Zero)

	assert.True(t, tr.Fee.IsZero())
	assert.True(t, tr.PnL.Equal(decimal.RequireFromString("-5")))
	assert.Equal(t, int64(0), tr.DurationMs)
}
