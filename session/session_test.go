package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-go/domain"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeLoader struct {
	portfolio domain.Portfolio
	err       error
	calls     int
}

func (f *fakeLoader) LoadPortfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	f.calls++
	return f.portfolio, f.err
}

func TestTokenGate(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewTokenGate("abc", time.Hour, clk)
	assert.True(t, g.IsAuthorized())
	assert.Equal(t, "abc", g.Token())

	clk.now = clk.now.Add(time.Hour)
	assert.False(t, g.IsAuthorized())
	assert.Empty(t, g.Token())

	g2 := NewTokenGate("abc", 0, clk)
	g2.Revoke()
	assert.False(t, g2.IsAuthorized())

	assert.False(t, NewTokenGate("  ", 0, nil).IsAuthorized())
	var nilGate *TokenGate
	assert.False(t, nilGate.IsAuthorized())
}

func TestAcquireReject(t *testing.T) {
	s := New("u1", StaticGate(true), nil)
	release, err := s.Acquire(context.Background(), false)
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, domain.ErrTradeInProgress)

	release()
	release2, err := s.Acquire(context.Background(), false)
	require.NoError(t, err)
	release2()
}

func TestAcquireQueueHonorsContext(t *testing.T) {
	s := New("u1", StaticGate(true), nil)
	release, err := s.Acquire(context.Background(), true)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, true)
	assert.ErrorIs(t, err, domain.ErrTradeInProgress)
}

func TestManagerLifecycle(t *testing.T) {
	loader := &fakeLoader{portfolio: domain.Portfolio{
		Balance: decimal.NewFromInt(500),
		Holdings: []domain.Holding{
			{Symbol: "AAPL", Name: "Apple", Quantity: decimal.NewFromInt(2), AvgCost: decimal.NewFromInt(100)},
		},
	}}
	m := NewManager(loader, nil)
	gate := NewTokenGate("tok", 0, nil)

	s, err := m.Open(context.Background(), "u1", gate)
	require.NoError(t, err)
	assert.True(t, s.Ledger().Balance().Equal(decimal.NewFromInt(500)))

	got, ok := m.Get("u1")
	require.True(t, ok)
	assert.Same(t, s, got)

	loader.portfolio.Balance = decimal.NewFromInt(900)
	require.NoError(t, m.Refetch(context.Background(), s))
	assert.True(t, s.Ledger().Balance().Equal(decimal.NewFromInt(900)))
	assert.Equal(t, 2, loader.calls)

	m.Close("u1")
	_, ok = m.Get("u1")
	assert.False(t, ok)
	assert.False(t, gate.IsAuthorized())
	assert.ErrorIs(t, m.Refetch(context.Background(), s), domain.ErrUnauthorized)
}

func TestManagerOpenErrors(t *testing.T) {
	m := NewManager(&fakeLoader{}, nil)
	_, err := m.Open(context.Background(), "u1", StaticGate(false))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	boom := errors.New("backend down")
	m = NewManager(&fakeLoader{err: boom}, nil)
	_, err = m.Open(context.Background(), "u1", StaticGate(true))
	assert.ErrorIs(t, err, boom)

	m = NewManager(&fakeLoader{portfolio: domain.Portfolio{Balance: decimal.NewFromInt(-1)}}, nil)
	_, err = m.Open(context.Background(), "u1", StaticGate(true))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type slowLoader struct {
	delay time.Duration
	calls atomic.Int32
}

func (f *slowLoader) LoadPortfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return domain.Portfolio{Balance: decimal.NewFromInt(100000)}, nil
}

func TestGetOrOpenSharesFirstLoad(t *testing.T) {
	loader := &slowLoader{delay: 30 * time.Millisecond}
	m := NewManager(loader, nil)

	const n = 8
	got := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.GetOrOpen(context.Background(), "ada", StaticGate(true))
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, loader.calls.Load())
	for i := 1; i < n; i++ {
		assert.Same(t, got[0], got[i])
	}
	s, ok := m.Get("ada")
	require.True(t, ok)
	assert.Same(t, got[0], s)

	// 已有会话直接返回，不再加载
	again, err := m.GetOrOpen(context.Background(), "ada", StaticGate(true))
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestGetOrOpenUnauthorized(t *testing.T) {
	m := NewManager(&slowLoader{}, nil)
	_, err := m.GetOrOpen(context.Background(), "ada", StaticGate(false))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
