package logschema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	err := Validate("trade_executed", map[string]interface{}{
		"id": "r-1", "user": "ada", "symbol": "AAPL", "side": "BUY",
		"qty": "10", "price": "150", "new_balance": "98500",
	})
	require.NoError(t, err)

	err = Validate("search_resolved", map[string]interface{}{"query": "AAP"})
	require.Error(t, err)
	assert.Equal(t, "missing fields: seq,count", err.Error())

	var mf *MissingFieldsError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, "search_resolved", mf.Event)
	assert.Equal(t, []string{"seq", "count"}, mf.Missing)

	assert.NoError(t, Validate("unknown_event", nil))
}

func TestRequiredReturnsCopy(t *testing.T) {
	keys := Required("valuation_partial")
	assert.Equal(t, []string{"user", "missing"}, keys)
	keys[0] = "mutated"
	assert.Equal(t, "user", Required("valuation_partial")[0])
	assert.Nil(t, Required("nope"))
}
