package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 交易方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 解析 buy/sell（大小写不敏感）。
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrValidation, s)
}

// Quote 某一时刻的报价快照，不做长期缓存。
type Quote struct {
	Symbol string
	Name   string
	Price  decimal.Decimal
	AsOf   time.Time
}

// Holding 单一标的持仓。
type Holding struct {
	Symbol   string
	Name     string
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// CostBasis = Quantity * AvgCost
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AvgCost)
}

// TradeRequest 调用方提交的市价单。PriceHint 仅作参考，成交价以执行时报价为准。
type TradeRequest struct {
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	PriceHint decimal.Decimal
}

// Normalize 去空格并转大写。
func (r TradeRequest) Normalize() TradeRequest {
	r.Symbol = NormalizeSymbol(r.Symbol)
	return r
}

// Validate 在任何状态变更之前检查请求。
func (r TradeRequest) Validate() error {
	if err := ValidateSymbol(r.Symbol); err != nil {
		return err
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrValidation, r.Quantity)
	}
	return nil
}

// Receipt 一次成交的回执，用于持久化调用。
type Receipt struct {
	ID         string
	UserID     string
	Symbol     string
	Name       string
	Side       Side
	Quantity   decimal.Decimal
	ExecPrice  decimal.Decimal
	NewBalance decimal.Decimal
	// Position 成交后的持仓；卖光时为 nil。
	Position   *Holding
	ExecutedAt time.Time
}

// Notional = Quantity * ExecPrice
func (r Receipt) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.ExecPrice)
}

// Suggestion 搜索补全的一条结果。
type Suggestion struct {
	Symbol   string
	Name     string
	Exchange string
}

// StockDetails 后端 /analytics/stocks/{symbol} 的返回。
type StockDetails struct {
	Symbol        string
	Name          string
	Price         decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        string
	MarketCap     string
}

// Profile 用户资料与虚拟余额。
type Profile struct {
	Name    string
	Email   string
	Balance decimal.Decimal
}

// Portfolio 会话开始时用于初始化 Ledger 的数据。
type Portfolio struct {
	Balance  decimal.Decimal
	Holdings []Holding
}

const maxSymbolLen = 16

// NormalizeSymbol 统一为大写代码。
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidateSymbol 检查代码格式：字母数字以及 . - ^ =。
func ValidateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if len(s) > maxSymbolLen {
		return fmt.Errorf("%w: symbol %q too long", ErrValidation, s)
	}
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '^' || c == '=':
		default:
			return fmt.Errorf("%w: malformed symbol %q", ErrValidation, s)
		}
	}
	return nil
}
