// Package trade 执行模拟买卖：取实时报价、入账、持久化，失败时回滚。
package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrade-go/domain"
	"papertrade-go/ledger"
	"papertrade-go/session"
)

// QuoteProvider 行情报价来源。
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Recorder 成交后的持久化。
type Recorder interface {
	RecordTrade(ctx context.Context, userID string, r domain.Receipt) error
}

// EventLogger 结构化事件输出。
type EventLogger interface {
	LogTrade(event string, fields map[string]interface{})
}

// Metrics 成交/拒单计数。
type Metrics interface {
	RecordTrade(side string, notional float64)
	RecordTradeRejected(reason string)
	RecordRollback()
}

// ConflictPolicy 同一用户并发下单时的处理方式。
type ConflictPolicy string

const (
	// ConflictQueue 排队等待前一笔结束。
	ConflictQueue ConflictPolicy = "queue"
	// ConflictReject 直接返回 ErrTradeInProgress。
	ConflictReject ConflictPolicy = "reject"
)

// Config 执行参数，可热更新。
type Config struct {
	OnConflict   ConflictPolicy
	QuoteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{OnConflict: ConflictQueue, QuoteTimeout: 10 * time.Second}
}

// Executor 校验并执行交易请求。
type Executor struct {
	quotes  QuoteProvider
	store   Recorder
	events  EventLogger
	metrics Metrics

	mu  sync.RWMutex
	cfg Config

	now   func() time.Time
	newID func() string
}

// Option 可选依赖。
type Option func(*Executor)

func WithEventLogger(l EventLogger) Option { return func(e *Executor) { e.events = l } }
func WithMetrics(m Metrics) Option         { return func(e *Executor) { e.metrics = m } }
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(quotes QuoteProvider, store Recorder, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		quotes:  quotes,
		store:   store,
		events:  nopEvents{},
		metrics: nopMetrics{},
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	e.SetConfig(cfg)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetConfig 热更新执行参数。
func (e *Executor) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.OnConflict == "" {
		cfg.OnConflict = def.OnConflict
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = def.QuoteTimeout
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Executor) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Execute 同步执行一笔市价单，返回时交易已成功或已完全撤销。
func (e *Executor) Execute(ctx context.Context, s *session.Session, req domain.TradeRequest) (domain.Receipt, error) {
	receipt, err := e.execute(ctx, s, req)
	if err != nil {
		e.metrics.RecordTradeRejected(domain.Kind(err))
		fields := map[string]interface{}{
			"symbol": req.Symbol,
			"side":   string(req.Side),
			"qty":    req.Quantity.String(),
			"reason": domain.Kind(err),
			"error":  err.Error(),
		}
		if s != nil {
			fields["user"] = s.UserID
		}
		e.events.LogTrade("trade_rejected", fields)
		return domain.Receipt{}, err
	}
	notional, _ := receipt.Notional().Float64()
	e.metrics.RecordTrade(string(receipt.Side), notional)
	e.events.LogTrade("trade_executed", map[string]interface{}{
		"id":          receipt.ID,
		"user":        receipt.UserID,
		"symbol":      receipt.Symbol,
		"side":        string(receipt.Side),
		"qty":         receipt.Quantity.String(),
		"price":       receipt.ExecPrice.String(),
		"new_balance": receipt.NewBalance.String(),
	})
	return receipt, nil
}

func (e *Executor) execute(ctx context.Context, s *session.Session, req domain.TradeRequest) (domain.Receipt, error) {
	if !s.Authorized() {
		return domain.Receipt{}, domain.ErrUnauthorized
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Receipt{}, err
	}
	cfg := e.config()

	release, err := s.Acquire(ctx, cfg.OnConflict != ConflictReject)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer release()

	l := s.Ledger()
	if l == nil {
		return domain.Receipt{}, fmt.Errorf("session %s has no ledger", s.UserID)
	}

	// 卖出先查持仓，避免无谓的行情请求。
	if req.Side == domain.SideSell {
		h, ok := l.Snapshot().Holding(req.Symbol)
		if !ok || h.Quantity.LessThan(req.Quantity) {
			return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrInsufficientShares, req.Symbol)
		}
	}

	quote, err := e.fetchQuote(ctx, req.Symbol, cfg.QuoteTimeout)
	if err != nil {
		return domain.Receipt{}, err
	}

	pre := l.Snapshot()
	pos, err := l.ApplyTrade(ledger.Trade{
		Symbol:   req.Symbol,
		Name:     quote.Name,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    quote.Price,
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	name := quote.Name
	if pos != nil {
		name = pos.Name
	} else if h, ok := pre.Holding(req.Symbol); ok {
		name = h.Name
	}
	receipt := domain.Receipt{
		ID:         e.newID(),
		UserID:     s.UserID,
		Symbol:     req.Symbol,
		Name:       name,
		Side:       req.Side,
		Quantity:   req.Quantity,
		ExecPrice:  quote.Price,
		NewBalance: l.Balance(),
		Position:   pos,
		ExecutedAt: e.now().UTC(),
	}

	if e.store != nil {
		if err := e.store.RecordTrade(ctx, s.UserID, receipt); err != nil {
			l.Restore(pre)
			e.metrics.RecordRollback()
			e.events.LogTrade("trade_rolled_back", map[string]interface{}{
				"id":     receipt.ID,
				"user":   s.UserID,
				"symbol": receipt.Symbol,
				"error":  err.Error(),
			})
			return domain.Receipt{}, fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
		}
	}
	return receipt, nil
}

func (e *Executor) fetchQuote(ctx context.Context, symbol string, timeout time.Duration) (domain.Quote, error) {
	if e.quotes == nil {
		return domain.Quote{}, fmt.Errorf("quote provider not set")
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	q, err := e.quotes.GetQuote(qctx, symbol)
	if err != nil {
		// 报价超时由本次 qctx 触发时，不论 provider 返回什么错误都算超时
		timedOut := errors.Is(err, context.DeadlineExceeded) || (qctx.Err() != nil && ctx.Err() == nil)
		if timedOut && !errors.Is(err, domain.ErrProviderTimeout) {
			return domain.Quote{}, fmt.Errorf("%w: quote %s: %v", domain.ErrProviderTimeout, symbol, err)
		}
		return domain.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if !q.Price.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%w: no price for %s", domain.ErrUnknownSymbol, symbol)
	}
	return q, nil
}

type nopEvents struct{}

func (nopEvents) LogTrade(string, map[string]interface{}) {}

type nopMetrics struct{}

func (nopMetrics) RecordTrade(string, float64) {}
func (nopMetrics) RecordTradeRejected(string)  {}
func (nopMetrics) RecordRollback()             {}
