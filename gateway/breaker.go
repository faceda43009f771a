package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"papertrade-go/domain"
)

// ErrBackendUnavailable 熔断打开期间快速失败；属于 ErrProviderTimeout，可重试。
var ErrBackendUnavailable = fmt.Errorf("%w: backend unavailable", domain.ErrProviderTimeout)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold int           // 连续故障次数阈值
	Cooldown  time.Duration // 打开后等待多久进入半开
	Probes    int           // 半开状态放行的探测请求数，全部成功才关闭
}

// Breaker 后端熔断器。只统计后端故障（超时、5xx、连接失败），
// 业务错误（404、余额不足等）说明后端正常响应，按成功处理。
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       BreakerState
	consecutive int
	trials      int
	successes   int
	openedAt    time.Time
	onChange    func(from, to BreakerState)
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// OnStateChange 状态切换回调，在锁外调用。
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow 请求前检查；打开期间返回 ErrBackendUnavailable。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var from BreakerState
	changed := false
	defer func() {
		fn := b.onChange
		b.mu.Unlock()
		if changed && fn != nil {
			fn(from, BreakerHalfOpen)
		}
	}()

	switch b.state {
	case BreakerOpen:
		wait := b.cfg.Cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w (retry in %s)", ErrBackendUnavailable, wait.Round(time.Millisecond))
		}
		from, changed = b.state, true
		b.state = BreakerHalfOpen
		b.trials, b.successes = 1, 0
		return nil
	case BreakerHalfOpen:
		if b.trials >= b.cfg.Probes {
			return ErrBackendUnavailable
		}
		b.trials++
	}
	return nil
}

// Record 登记请求结果。
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case errors.Is(err, context.Canceled):
		// 调用方放弃，不代表后端状态
		if b.state == BreakerHalfOpen && b.trials > 0 {
			b.trials--
		}
	case isBackendFault(err):
		b.consecutive++
		if b.state == BreakerHalfOpen || b.consecutive >= b.cfg.Threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	default:
		b.consecutive = 0
		if b.state == BreakerHalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.state = BreakerClosed
			}
		}
	}
	to := b.state
	fn := b.onChange
	b.mu.Unlock()
	if from != to && fn != nil {
		fn(from, to)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func isBackendFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrProviderTimeout) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	for _, known := range []error{
		domain.ErrUnknownSymbol, domain.ErrUnauthorized, domain.ErrValidation,
		domain.ErrInsufficientFunds, domain.ErrInsufficientShares,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	// 连接被拒、DNS 失败等传输错误
	return true
}
