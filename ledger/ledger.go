// Package ledger 维护单个用户的虚拟现金余额与持仓。
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"papertrade-go/domain"
)

// Trade 一次待入账的成交。
type Trade struct {
	Symbol   string
	Name     string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Snapshot 某一时刻余额与持仓的一致视图，持仓按首次买入顺序排列。
type Snapshot struct {
	Balance  decimal.Decimal
	Holdings []domain.Holding
	Version  uint64
}

// Holding 按代码查找快照中的持仓。
func (s Snapshot) Holding(symbol string) (domain.Holding, bool) {
	for _, h := range s.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return domain.Holding{}, false
}

// Ledger 只通过 ApplyTrade 修改，失败调用不产生任何副作用。
type Ledger struct {
	mu       sync.RWMutex
	balance  decimal.Decimal
	holdings map[string]*domain.Holding
	order    []string
	version  uint64
}

// New 用外部加载的余额与持仓构建 Ledger。数量为 0 的持仓被忽略。
func New(balance decimal.Decimal, holdings []domain.Holding) (*Ledger, error) {
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: negative balance %s", domain.ErrValidation, balance)
	}
	l := &Ledger{
		balance:  balance,
		holdings: make(map[string]*domain.Holding, len(holdings)),
		order:    make([]string, 0, len(holdings)),
	}
	for _, h := range holdings {
		h.Symbol = domain.NormalizeSymbol(h.Symbol)
		if h.Quantity.IsNegative() || h.AvgCost.IsNegative() {
			return nil, fmt.Errorf("%w: negative holding %s", domain.ErrValidation, h.Symbol)
		}
		if h.Quantity.IsZero() {
			continue
		}
		if _, dup := l.holdings[h.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate holding %s", domain.ErrValidation, h.Symbol)
		}
		hc := h
		l.holdings[h.Symbol] = &hc
		l.order = append(l.order, h.Symbol)
	}
	return l, nil
}

// ApplyTrade 入账一笔成交，返回成交后的持仓（卖光时为 nil）。
//
// 买入：余额减少 qty*price，均价按成交量加权；余额不足返回 ErrInsufficientFunds。
// 卖出：余额增加 qty*price；持仓不足返回 ErrInsufficientShares；数量归零时移除持仓。
func (l *Ledger) ApplyTrade(t Trade) (*domain.Holding, error) {
	symbol := domain.NormalizeSymbol(t.Symbol)
	if err := domain.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !t.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if !t.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrValidation)
	}
	notional := t.Quantity.Mul(t.Price)

	l.mu.Lock()
	defer l.mu.Unlock()

	switch t.Side {
	case domain.SideBuy:
		if l.balance.LessThan(notional) {
			return nil, fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientFunds, notional, l.balance)
		}
		h, ok := l.holdings[symbol]
		if !ok {
			name := t.Name
			if name == "" {
				name = symbol
			}
			h = &domain.Holding{Symbol: symbol, Name: name, Quantity: decimal.Zero, AvgCost: decimal.Zero}
			l.holdings[symbol] = h
			l.order = append(l.order, symbol)
		}
		newQty := h.Quantity.Add(t.Quantity)
		h.AvgCost = h.Quantity.Mul(h.AvgCost).Add(notional).Div(newQty)
		h.Quantity = newQty
		l.balance = l.balance.Sub(notional)
		l.version++
		out := *h
		return &out, nil

	case domain.SideSell:
		h, ok := l.holdings[symbol]
		if !ok || h.Quantity.LessThan(t.Quantity) {
			held := decimal.Zero
			if ok {
				held = h.Quantity
			}
			return nil, fmt.Errorf("%w: %s held %s, requested %s", domain.ErrInsufficientShares, symbol, held, t.Quantity)
		}
		h.Quantity = h.Quantity.Sub(t.Quantity)
		l.balance = l.balance.Add(notional)
		l.version++
		if h.Quantity.IsZero() {
			l.removeLocked(symbol)
			return nil, nil
		}
		out := *h
		return &out, nil
	}
	return nil, fmt.Errorf("%w: unknown side %q", domain.ErrValidation, t.Side)
}

func (l *Ledger) removeLocked(symbol string) {
	delete(l.holdings, symbol)
	for i, s := range l.order {
		if s == symbol {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Snapshot 单次加锁读取余额与全部持仓，避免字段级撕裂。
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := Snapshot{
		Balance:  l.balance,
		Holdings: make([]domain.Holding, 0, len(l.order)),
		Version:  l.version,
	}
	for _, sym := range l.order {
		out.Holdings = append(out.Holdings, *l.holdings[sym])
	}
	return out
}

// Balance 当前余额。
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// Restore 整体回退到快照状态，用于持久化失败时撤销内存变更。
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = s.Balance
	l.holdings = make(map[string]*domain.Holding, len(s.Holdings))
	l.order = make([]string, 0, len(s.Holdings))
	for _, h := range s.Holdings {
		hc := h
		l.holdings[h.Symbol] = &hc
		l.order = append(l.order, h.Symbol)
	}
	l.version++
}
