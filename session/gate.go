package session

import (
	"strings"
	"sync"
	"time"
)

// Gate 判断当前调用方是否允许交易/查看组合。
type Gate interface {
	IsAuthorized() bool
}

// StaticGate 固定结果，本地模式与测试使用。
type StaticGate bool

func (g StaticGate) IsAuthorized() bool { return bool(g) }

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TokenGate 持有登录得到的 bearer token；过期或登出后拒绝。
type TokenGate struct {
	mu      sync.RWMutex
	token   string
	expires time.Time
	clock   Clock
}

// NewTokenGate ttl<=0 表示不过期。
func NewTokenGate(token string, ttl time.Duration, clock Clock) *TokenGate {
	if clock == nil {
		clock = realClock{}
	}
	g := &TokenGate{token: strings.TrimSpace(token), clock: clock}
	if ttl > 0 {
		g.expires = clock.Now().Add(ttl)
	}
	return g
}

func (g *TokenGate) IsAuthorized() bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.token == "" {
		return false
	}
	if !g.expires.IsZero() && !g.clock.Now().Before(g.expires) {
		return false
	}
	return true
}

// Token 返回当前 token；未授权时为空。
func (g *TokenGate) Token() string {
	if !g.IsAuthorized() {
		return ""
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// Revoke 登出。
func (g *TokenGate) Revoke() {
	g.mu.Lock()
	g.token = ""
	g.mu.Unlock()
}
