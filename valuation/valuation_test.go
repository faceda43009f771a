package valuation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-go/domain"
	"papertrade-go/ledger"
	"papertrade-go/session"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func h(sym, qty, avg string) domain.Holding {
	return domain.Holding{Symbol: sym, Name: sym, Quantity: d(qty), AvgCost: d(avg)}
}

func TestSummarizeBasic(t *testing.T) {
	snap := ledger.Snapshot{Balance: d("500"), Holdings: []domain.Holding{h("AAPL", "10", "100")}}
	sum := Summarize(snap, map[string]decimal.Decimal{"AAPL": d("150")})

	assert.True(t, sum.TotalValue.Equal(d("1500")))
	assert.True(t, sum.TotalCost.Equal(d("1000")))
	assert.True(t, sum.GainLoss.Equal(d("500")))
	assert.True(t, sum.GainLossPercent.Equal(d("50")), "pct %s", sum.GainLossPercent)
	assert.Equal(t, "AAPL", sum.BestPerformer)
	assert.False(t, sum.Partial)
	require.Len(t, sum.Rows, 1)
	assert.True(t, sum.Rows[0].GainLossPercent.Equal(d("50")))
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(ledger.Snapshot{Balance: d("100")}, nil)
	assert.True(t, sum.GainLossPercent.IsZero())
	assert.True(t, sum.TotalCost.IsZero())
	assert.Empty(t, sum.BestPerformer)
}

func TestSummarizeZeroCostBasis(t *testing.T) {
	snap := ledger.Snapshot{Holdings: []domain.Holding{h("FREE", "3", "0")}}
	sum := Summarize(snap, map[string]decimal.Decimal{"FREE": d("10")})
	assert.True(t, sum.TotalValue.Equal(d("30")))
	assert.True(t, sum.GainLossPercent.IsZero())
	assert.Empty(t, sum.BestPerformer, "avgCost=0 is not comparable")
}

func TestBestPerformerTieBreakFirstSeen(t *testing.T) {
	snap := ledger.Snapshot{Holdings: []domain.Holding{
		h("LOSS", "1", "100"),
		h("TIE1", "1", "100"),
		h("TIE2", "2", "50"),
	}}
	prices := map[string]decimal.Decimal{"LOSS": d("90"), "TIE1": d("120"), "TIE2": d("60")}
	assert.Equal(t, "TIE1", Summarize(snap, prices).BestPerformer)
}

func TestBestPerformerAllLosing(t *testing.T) {
	snap := ledger.Snapshot{Holdings: []domain.Holding{h("A", "1", "100"), h("B", "1", "100")}}
	prices := map[string]decimal.Decimal{"A": d("50"), "B": d("80")}
	assert.Equal(t, "B", Summarize(snap, prices).BestPerformer)
}

func TestSummarizeMissingPriceIsPartial(t *testing.T) {
	snap := ledger.Snapshot{Holdings: []domain.Holding{h("AAPL", "10", "100"), h("GONE", "5", "20")}}
	sum := Summarize(snap, map[string]decimal.Decimal{"AAPL": d("110")})

	assert.True(t, sum.Partial)
	assert.Equal(t, []string{"GONE"}, sum.Missing)
	assert.True(t, sum.TotalValue.Equal(d("1100")))
	assert.True(t, sum.TotalCost.Equal(d("1000")))
	require.Len(t, sum.Rows, 2)
	assert.False(t, sum.Rows[1].Priced)
	assert.Equal(t, "AAPL", sum.BestPerformer)
}

type mapPrices map[string]string

func (m mapPrices) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	px, ok := m[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrUnknownSymbol
	}
	return domain.Quote{Symbol: symbol, Price: d(px)}, nil
}

type recMetrics struct {
	value   float64
	partial int
}

func (r *recMetrics) UpdatePortfolio(value, _ float64) { r.value = value }
func (r *recMetrics) RecordValuationPartial()          { r.partial++ }

func TestValuatorValue(t *testing.T) {
	l, err := ledger.New(d("0"), []domain.Holding{h("AAPL", "10", "100"), h("MSFT", "1", "300"), h("DEAD", "1", "1")})
	require.NoError(t, err)
	s := session.New("u1", session.StaticGate(true), l)
	m := &recMetrics{}
	v := NewValuator(mapPrices{"AAPL": "150", "MSFT": "330"}, WithMetrics(m), WithConcurrency(2))

	sum, err := v.Value(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, sum.TotalValue.Equal(d("1830")))
	assert.True(t, sum.Partial)
	assert.Equal(t, []string{"DEAD"}, sum.Missing)
	assert.Equal(t, "AAPL", sum.BestPerformer)
	assert.Equal(t, 1830.0, m.value)
	assert.Equal(t, 1, m.partial)
}

func TestValuatorUnauthorized(t *testing.T) {
	l, _ := ledger.New(d("0"), nil)
	v := NewValuator(mapPrices{})
	_, err := v.Value(context.Background(), session.New("u1", session.StaticGate(false), l))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
