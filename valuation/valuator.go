package valuation

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"papertrade-go/domain"
	"papertrade-go/session"
)

// PriceSource 当前价格来源。
type PriceSource interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// EventLogger 结构化事件输出。
type EventLogger interface {
	LogPortfolio(event string, fields map[string]interface{})
}

// Metrics 组合指标。
type Metrics interface {
	UpdatePortfolio(value, gainLoss float64)
	RecordValuationPartial()
}

// Valuator 取价并计算 Summary；可并发调用。
type Valuator struct {
	prices      PriceSource
	timeout     time.Duration
	concurrency int
	events      EventLogger
	metrics     Metrics
}

type Option func(*Valuator)

func WithTimeout(d time.Duration) Option   { return func(v *Valuator) { v.timeout = d } }
func WithConcurrency(n int) Option         { return func(v *Valuator) { v.concurrency = n } }
func WithEventLogger(l EventLogger) Option { return func(v *Valuator) { v.events = l } }
func WithMetrics(m Metrics) Option         { return func(v *Valuator) { v.metrics = m } }

func NewValuator(prices PriceSource, opts ...Option) *Valuator {
	v := &Valuator{
		prices:      prices,
		timeout:     10 * time.Second,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.concurrency <= 0 {
		v.concurrency = 1
	}
	return v
}

// Value 读取会话 Ledger 的一致快照，逐个取价后汇总。单个标的取价失败不会中断整体计算。
func (v *Valuator) Value(ctx context.Context, s *session.Session) (Summary, error) {
	if !s.Authorized() {
		return Summary{}, domain.ErrUnauthorized
	}
	l := s.Ledger()
	if l == nil {
		return Summary{}, domain.ErrUnauthorized
	}
	snap := l.Snapshot()

	var mu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(snap.Holdings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, h := range snap.Holdings {
		symbol := h.Symbol
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, v.timeout)
			defer cancel()
			q, err := v.prices.GetQuote(qctx, symbol)
			if err != nil || !q.Price.IsPositive() {
				return nil
			}
			mu.Lock()
			prices[symbol] = q.Price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sum := Summarize(snap, prices)
	if v.metrics != nil {
		value, _ := sum.TotalValue.Float64()
		gl, _ := sum.GainLoss.Float64()
		v.metrics.UpdatePortfolio(value, gl)
		if sum.Partial {
			v.metrics.RecordValuationPartial()
		}
	}
	if sum.Partial && v.events != nil {
		v.events.LogPortfolio("valuation_partial", map[string]interface{}{
			"user":    s.UserID,
			"missing": sum.Missing,
		})
	}
	return sum, nil
}
