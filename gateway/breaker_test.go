package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-go/domain"
)

func newTestBreaker(threshold, probes int) (*Breaker, *time.Time) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerConfig{Threshold: threshold, Cooldown: time.Second, Probes: probes})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFaults(t *testing.T) {
	b, now := newTestBreaker(2, 1)
	var transitions []string
	b.OnStateChange(func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	fault := fmt.Errorf("%w: GET /x", domain.ErrProviderTimeout)
	require.NoError(t, b.Allow())
	b.Record(fault)
	require.NoError(t, b.Allow())
	b.Record(nil)
	b.Record(fault)
	assert.Equal(t, BreakerClosed, b.State(), "success resets the streak")

	b.Record(fault)
	assert.Equal(t, BreakerOpen, b.State())
	err := b.Allow()
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
	assert.True(t, domain.IsRetryable(err))

	*now = now.Add(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBackendUnavailable, "only one probe in half-open")

	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestBreakerHalfOpenFaultReopens(t *testing.T) {
	b, now := newTestBreaker(1, 2)
	b.Record(&StatusError{Status: http.StatusBadGateway})
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.Record(errors.New("connection refused"))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerIgnoresDomainErrorsAndCancellation(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	for _, err := range []error{
		fmt.Errorf("%w: ZZZ", domain.ErrUnknownSymbol),
		fmt.Errorf("%w: low", domain.ErrInsufficientFunds),
		&StatusError{Status: http.StatusTeapot},
		fmt.Errorf("GET /x: %w", context.Canceled),
	} {
		b.Record(err)
		assert.Equal(t, BreakerClosed, b.State(), "%v", err)
	}
}

func TestClientFailsFastWhenBreakerOpen(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
	}))
	defer ts.Close()

	breaker := NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	c := NewClient(ClientConfig{BaseURL: ts.URL}, WithBreaker(breaker))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Stock(ctx, "AAPL")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Status)
	}
	_, err := c.Stock(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}
