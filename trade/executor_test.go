package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-go/domain"
	"papertrade-go/ledger"
	"papertrade-go/session"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeQuotes struct {
	mu     sync.Mutex
	prices map[string]string
	err    error
	calls  int
	gate   chan struct{}
}

func (f *fakeQuotes) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Quote{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	px, ok := f.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrUnknownSymbol
	}
	return domain.Quote{Symbol: symbol, Name: symbol + " Inc.", Price: d(px), AsOf: time.Now()}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	err      error
	receipts []domain.Receipt
}

func (f *fakeStore) RecordTrade(ctx context.Context, userID string, r domain.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.receipts = append(f.receipts, r)
	return nil
}

type countingMetrics struct {
	mu        sync.Mutex
	trades    int
	rejects   map[string]int
	rollbacks int
}

func (m *countingMetrics) RecordTrade(string, float64) { m.mu.Lock(); m.trades++; m.mu.Unlock() }
func (m *countingMetrics) RecordTradeRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejects == nil {
		m.rejects = map[string]int{}
	}
	m.rejects[reason]++
}
func (m *countingMetrics) RecordRollback() { m.mu.Lock(); m.rollbacks++; m.mu.Unlock() }

func newSession(t *testing.T, balance string, holdings ...domain.Holding) *session.Session {
	t.Helper()
	l, err := ledger.New(d(balance), holdings)
	require.NoError(t, err)
	return session.New("u1", session.StaticGate(true), l)
}

func req(side domain.Side, sym, qty string) domain.TradeRequest {
	return domain.TradeRequest{Symbol: sym, Side: side, Quantity: d(qty)}
}

func TestExecuteBuyUsesFreshQuote(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "150"}}
	store := &fakeStore{}
	ex := NewExecutor(quotes, store, DefaultConfig())
	s := newSession(t, "1000")

	r := req(domain.SideBuy, "aapl", "2")
	r.PriceHint = d("1") // 客户端价格不可信
	receipt, err := ex.Execute(context.Background(), s, r)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", receipt.Symbol)
	assert.True(t, receipt.ExecPrice.Equal(d("150")))
	assert.True(t, receipt.NewBalance.Equal(d("700")))
	require.NotNil(t, receipt.Position)
	assert.True(t, receipt.Position.Quantity.Equal(d("2")))
	assert.NotEmpty(t, receipt.ID)
	require.Len(t, store.receipts, 1)
	assert.Equal(t, receipt.ID, store.receipts[0].ID)
}

func TestExecuteBuyThenSellAllLeavesNoResidue(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]string{"MSFT": "10"}}
	ex := NewExecutor(quotes, &fakeStore{}, DefaultConfig())
	s := newSession(t, "1000")

	_, err := ex.Execute(context.Background(), s, req(domain.SideBuy, "MSFT", "5"))
	require.NoError(t, err)
	receipt, err := ex.Execute(context.Background(), s, req(domain.SideSell, "MSFT", "5"))
	require.NoError(t, err)

	assert.Nil(t, receipt.Position)
	assert.Empty(t, s.Ledger().Snapshot().Holdings)
	assert.True(t, s.Ledger().Balance().Equal(d("1000")))
}

func TestExecuteRejections(t *testing.T) {
	testCases := []struct {
		name    string
		sess    func(t *testing.T) *session.Session
		quotes  *fakeQuotes
		request domain.TradeRequest
		want    error
		quoted  bool
	}{
		{
			name:    "unauthorized",
			sess:    func(t *testing.T) *session.Session { return session.New("u1", session.StaticGate(false), nil) },
			quotes:  &fakeQuotes{prices: map[string]string{"AAPL": "1"}},
			request: req(domain.SideBuy, "AAPL", "1"),
			want:    domain.ErrUnauthorized,
		},
		{
			name:    "zero quantity",
			sess:    func(t *testing.T) *session.Session { return newSession(t, "100") },
			quotes:  &fakeQuotes{prices: map[string]string{"AAPL": "1"}},
			request: req(domain.SideBuy, "AAPL", "0"),
			want:    domain.ErrValidation,
		},
		{
			name:    "malformed symbol",
			sess:    func(t *testing.T) *session.Session { return newSession(t, "100") },
			quotes:  &fakeQuotes{},
			request: req(domain.SideBuy, "AA$PL", "1"),
			want:    domain.ErrValidation,
		},
		{
			name:    "unknown symbol",
			sess:    func(t *testing.T) *session.Session { return newSession(t, "100") },
			quotes:  &fakeQuotes{prices: map[string]string{}},
			request: req(domain.SideBuy, "ZZZZ", "1"),
			want:    domain.ErrUnknownSymbol,
			quoted:  true,
		},
		{
			name:    "insufficient funds",
			sess:    func(t *testing.T) *session.Session { return newSession(t, "100") },
			quotes:  &fakeQuotes{prices: map[string]string{"AAPL": "150"}},
			request: req(domain.SideBuy, "AAPL", "1"),
			want:    domain.ErrInsufficientFunds,
			quoted:  true,
		},
		{
			name:    "insufficient shares skips quote",
			sess:    func(t *testing.T) *session.Session { return newSession(t, "100") },
			quotes:  &fakeQuotes{prices: map[string]string{"AAPL": "150"}},
			request: req(domain.SideSell, "AAPL", "1"),
			want:    domain.ErrInsufficientShares,
		},
		{
			name:    "provider timeout",
			sess:    func(t *testing.T) *session.Session { return newSession(t, "100") },
			quotes:  &fakeQuotes{err: context.DeadlineExceeded},
			request: req(domain.SideBuy, "AAPL", "1"),
			want:    domain.ErrProviderTimeout,
			quoted:  true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := &countingMetrics{}
			ex := NewExecutor(tc.quotes, &fakeStore{}, DefaultConfig(), WithMetrics(m))
			s := tc.sess(t)
			var before ledger.Snapshot
			if s.Ledger() != nil {
				before = s.Ledger().Snapshot()
			}

			_, err := ex.Execute(context.Background(), s, tc.request)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 1, m.rejects[domain.Kind(err)])
			assert.Equal(t, tc.quoted, tc.quotes.calls > 0)

			if s.Ledger() != nil {
				after := s.Ledger().Snapshot()
				assert.True(t, after.Balance.Equal(before.Balance))
				assert.Len(t, after.Holdings, len(before.Holdings))
			}
		})
	}
}

func TestExecutePersistenceFailureRollsBack(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "100"}}
	diskFull := errors.New("disk full")
	store := &fakeStore{err: diskFull}
	m := &countingMetrics{}
	ex := NewExecutor(quotes, store, DefaultConfig(), WithMetrics(m))
	s := newSession(t, "1000", domain.Holding{Symbol: "AAPL", Name: "Apple", Quantity: d("1"), AvgCost: d("90")})
	before := s.Ledger().Snapshot()

	_, err := ex.Execute(context.Background(), s, req(domain.SideSell, "AAPL", "1"))
	require.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.ErrorIs(t, err, diskFull)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, 1, m.rollbacks)

	after := s.Ledger().Snapshot()
	assert.True(t, after.Balance.Equal(before.Balance))
	h, ok := after.Holding("AAPL")
	require.True(t, ok)
	assert.True(t, h.Quantity.Equal(d("1")))
	assert.True(t, h.AvgCost.Equal(d("90")))
}

// 远端拒单：原因保留在错误链上，账本回滚。
func TestExecutePersistenceFailureKeepsBackendCause(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]string{"AAPL": "100"}}
	store := &fakeStore{err: fmt.Errorf("%w: Insufficient virtual balance", domain.ErrInsufficientFunds)}
	ex := NewExecutor(quotes, store, DefaultConfig())
	s := newSession(t, "1000")

	_, err := ex.Execute(context.Background(), s, req(domain.SideBuy, "AAPL", "2"))
	require.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "persistence_failed", domain.Kind(err))
	assert.True(t, s.Ledger().Balance().Equal(d("1000")))
}

// 余额只够一笔：两笔并发下单恰好一笔成功。
func TestConcurrentExecuteNeverOverdraws(t *testing.T) {
	for _, policy := range []ConflictPolicy{ConflictQueue, ConflictReject} {
		t.Run(string(policy), func(t *testing.T) {
			quotes := &fakeQuotes{prices: map[string]string{"AAPL": "100"}, gate: make(chan struct{})}
			ex := NewExecutor(quotes, &fakeStore{}, Config{OnConflict: policy, QuoteTimeout: time.Second})
			s := newSession(t, "150")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = ex.Execute(context.Background(), s, req(domain.SideBuy, "AAPL", "1"))
				}(i)
			}
			time.Sleep(20 * time.Millisecond)
			close(quotes.gate)
			wg.Wait()

			ok := 0
			for _, err := range errs {
				if err == nil {
					ok++
					continue
				}
				assert.True(t, errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrTradeInProgress), "unexpected %v", err)
			}
			assert.Equal(t, 1, ok)
			assert.True(t, s.Ledger().Balance().Equal(d("50")))
		})
	}
}

func TestSetConfigDefaults(t *testing.T) {
	ex := NewExecutor(nil, nil, Config{})
	cfg := ex.config()
	assert.Equal(t, ConflictQueue, cfg.OnConflict)
	assert.Equal(t, DefaultConfig().QuoteTimeout, cfg.QuoteTimeout)

	ex.SetConfig(Config{OnConflict: ConflictReject, QuoteTimeout: time.Second})
	assert.Equal(t, ConflictReject, ex.config().OnConflict)
}
