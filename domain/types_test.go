package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeRequestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		req     TradeRequest
		wantErr bool
	}{
		{"ok", TradeRequest{Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(1)}, false},
		{"fractional", TradeRequest{Symbol: "BRK.B", Side: SideSell, Quantity: decimal.RequireFromString("0.5")}, false},
		{"zero qty", TradeRequest{Symbol: "AAPL", Side: SideBuy, Quantity: decimal.Zero}, true},
		{"negative qty", TradeRequest{Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(-3)}, true},
		{"empty symbol", TradeRequest{Side: SideBuy, Quantity: decimal.NewFromInt(1)}, true},
		{"bad symbol", TradeRequest{Symbol: "AA PL", Side: SideBuy, Quantity: decimal.NewFromInt(1)}, true},
		{"bad side", TradeRequest{Symbol: "AAPL", Side: "HOLD", Quantity: decimal.NewFromInt(1)}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	req := TradeRequest{Symbol: "  aapl "}.Normalize()
	assert.Equal(t, "AAPL", req.Symbol)
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("buy")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)
	_, err = ParseSide("short")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorKind(t *testing.T) {
	wrapped := fmt.Errorf("quote AAPL: %w", ErrProviderTimeout)
	assert.Equal(t, "provider_timeout", Kind(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
	assert.Equal(t, "internal", Kind(errors.New("boom")))

	persist := fmt.Errorf("%w: %w", ErrPersistenceFailed, wrapped)
	assert.Equal(t, "persistence_failed", Kind(persist))
	assert.False(t, IsRetryable(persist))
	assert.Equal(t, "none", Kind(nil))
}
