package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"papertrade-go/domain"
	"papertrade-go/valuation"
)

const currency = money.USD

// formatMoney 按币种最小单位四舍五入后输出，例如 $1,234.50。
func formatMoney(amount decimal.Decimal) string {
	cur := money.GetCurrency(currency)
	factor := decimal.New(1, int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), currency).Display()
}

// formatSigned 收益带正负号
func formatSigned(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + formatMoney(amount)
	}
	return formatMoney(amount)
}

func formatPercent(p decimal.Decimal) string {
	s := p.StringFixed(2) + "%"
	if p.IsPositive() {
		return "+" + s
	}
	return s
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printSummary(w io.Writer, s valuation.Summary) {
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tQTY\tAVG COST\tPRICE\tVALUE\tGAIN/LOSS\t%")
	for _, r := range s.Rows {
		price, value, gain, pct := "n/a", "n/a", "n/a", "n/a"
		if r.Priced {
			price = formatMoney(r.CurrentPrice)
			value = formatMoney(r.Value)
			gain = formatSigned(r.GainLoss)
			pct = formatPercent(r.GainLossPercent)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Symbol, r.Name, r.Quantity.String(), formatMoney(r.AvgCost), price, value, gain, pct)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Cash:          %s\n", formatMoney(s.Balance))
	fmt.Fprintf(w, "Holdings:      %s\n", formatMoney(s.TotalValue))
	fmt.Fprintf(w, "Account value: %s\n", formatMoney(s.Balance.Add(s.TotalValue)))
	fmt.Fprintf(w, "Gain/Loss:     %s (%s)\n", formatSigned(s.GainLoss), formatPercent(s.GainLossPercent))
	if s.BestPerformer != "" {
		fmt.Fprintf(w, "Best:          %s\n", s.BestPerformer)
	}
	if s.Partial {
		fmt.Fprintf(w, "warning: no price for %v, excluded from totals\n", s.Missing)
	}
}

func printProfile(w io.Writer, p domain.Profile) {
	if p.Email != "" {
		fmt.Fprintf(w, "%s <%s>\n", p.Name, p.Email)
	} else {
		fmt.Fprintln(w, p.Name)
	}
	fmt.Fprintf(w, "Cash: %s\n", formatMoney(p.Balance))
}

func printReceipt(w io.Writer, rc domain.Receipt) {
	fmt.Fprintf(w, "%s %s %s @ %s = %s\n",
		rc.Side, rc.Quantity.String(), rc.Symbol, formatMoney(rc.ExecPrice), formatMoney(rc.Notional()))
	fmt.Fprintf(w, "Cash: %s\n", formatMoney(rc.NewBalance))
	if rc.Position != nil {
		fmt.Fprintf(w, "Position: %s @ %s\n", rc.Position.Quantity.String(), formatMoney(rc.Position.AvgCost))
	} else {
		fmt.Fprintln(w, "Position: closed")
	}
}

func printStocks(w io.Writer, list []domain.StockDetails) {
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tPRICE\tCHANGE\t%\tVOLUME\tMARKET CAP")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Symbol, d.Name, formatMoney(d.Price), formatSigned(d.Change), formatPercent(d.ChangePercent), d.Volume, d.MarketCap)
	}
	_ = tw.Flush()
}

func printSuggestions(w io.Writer, list []domain.Suggestion) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	tw := newTable(w)
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Symbol, s.Name, s.Exchange)
	}
	_ = tw.Flush()
}

func printHistory(w io.Writer, trades []domain.Receipt) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tSIDE\tSYMBOL\tQTY\tPRICE\tNOTIONAL\tCASH AFTER")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ExecutedAt.Local().Format("2006-01-02 15:04:05"), t.Side, t.Symbol, t.Quantity.String(),
			formatMoney(t.ExecPrice), formatMoney(t.Notional()), formatMoney(t.NewBalance))
	}
	_ = tw.Flush()
}
