// Package valuation 基于 Ledger 快照与当前价格计算组合表现，只读无副作用。
package valuation

import (
	"github.com/shopspring/decimal"

	"papertrade-go/ledger"
)

var hundred = decimal.NewFromInt(100)

// Row 持仓表中的一行。
type Row struct {
	Symbol          string
	Name            string
	Quantity        decimal.Decimal
	AvgCost         decimal.Decimal
	CurrentPrice    decimal.Decimal
	Value           decimal.Decimal
	Cost            decimal.Decimal
	GainLoss        decimal.Decimal
	GainLossPercent decimal.Decimal
	// Priced=false 表示该标的取价失败，未计入汇总。
	Priced bool
}

// Summary 组合汇总，随时可按需重算，不单独存储。
type Summary struct {
	Balance         decimal.Decimal
	TotalValue      decimal.Decimal
	TotalCost       decimal.Decimal
	GainLoss        decimal.Decimal
	GainLossPercent decimal.Decimal
	// BestPerformer 为空表示没有可比较的持仓。
	BestPerformer string
	Rows          []Row
	Partial       bool
	Missing       []string
	Version       uint64
}

// Summarize 纯函数。prices 中缺失的标的贡献记为 0 并标记 Partial。
//
// gainLossPercent 在 totalCost 为 0 时定义为 0。
// bestPerformer 取 (price-avgCost)/avgCost 最大者，仅考虑 avgCost>0 且有价格的持仓，平手取先出现者。
func Summarize(snap ledger.Snapshot, prices map[string]decimal.Decimal) Summary {
	out := Summary{
		Balance:         snap.Balance,
		TotalValue:      decimal.Zero,
		TotalCost:       decimal.Zero,
		GainLoss:        decimal.Zero,
		GainLossPercent: decimal.Zero,
		Rows:            make([]Row, 0, len(snap.Holdings)),
		Version:         snap.Version,
	}
	var bestReturn decimal.Decimal
	haveBest := false

	for _, h := range snap.Holdings {
		row := Row{
			Symbol:          h.Symbol,
			Name:            h.Name,
			Quantity:        h.Quantity,
			AvgCost:         h.AvgCost,
			CurrentPrice:    decimal.Zero,
			Value:           decimal.Zero,
			Cost:            h.CostBasis(),
			GainLoss:        decimal.Zero,
			GainLossPercent: decimal.Zero,
		}
		px, ok := prices[h.Symbol]
		if !ok {
			out.Partial = true
			out.Missing = append(out.Missing, h.Symbol)
			out.Rows = append(out.Rows, row)
			continue
		}
		row.Priced = true
		row.CurrentPrice = px
		row.Value = h.Quantity.Mul(px)
		row.GainLoss = row.Value.Sub(row.Cost)
		row.GainLossPercent = percent(row.GainLoss, row.Cost)
		out.Rows = append(out.Rows, row)

		out.TotalValue = out.TotalValue.Add(row.Value)
		out.TotalCost = out.TotalCost.Add(row.Cost)

		if h.AvgCost.IsPositive() {
			ret := px.Sub(h.AvgCost).Div(h.AvgCost)
			if !haveBest || ret.GreaterThan(bestReturn) {
				bestReturn = ret
				out.BestPerformer = h.Symbol
				haveBest = true
			}
		}
	}
	out.GainLoss = out.TotalValue.Sub(out.TotalCost)
	out.GainLossPercent = percent(out.GainLoss, out.TotalCost)
	return out
}

func percent(gain, cost decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	return gain.Div(cost).Mul(hundred)
}
