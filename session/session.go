package session

import (
	"context"
	"fmt"
	"sync"

	"papertrade-go/domain"
	"papertrade-go/ledger"
)

// Session 一个用户会话：唯一的 Ledger 与一把交易互斥锁。
type Session struct {
	UserID string
	Gate   Gate

	mu     sync.RWMutex
	ledger *ledger.Ledger
	// 容量为 1 的信号量，串行化 fetchQuote -> applyTrade -> persist。
	trading chan struct{}
}

// New 直接用已有 Ledger 构造会话。
func New(userID string, gate Gate, l *ledger.Ledger) *Session {
	return &Session{
		UserID:  userID,
		Gate:    gate,
		ledger:  l,
		trading: make(chan struct{}, 1),
	}
}

// Authorized 会话存在且 gate 放行。
func (s *Session) Authorized() bool {
	return s != nil && s.Gate != nil && s.Gate.IsAuthorized()
}

// Ledger 返回当前 Ledger；刷新后会被整体替换。
func (s *Session) Ledger() *ledger.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger
}

func (s *Session) replaceLedger(l *ledger.Ledger) {
	s.mu.Lock()
	s.ledger = l
	s.mu.Unlock()
}

// Acquire 获取交易锁。wait=false 时若已有交易在途立即返回 ErrTradeInProgress；
// wait=true 时排队直到 ctx 结束。
func (s *Session) Acquire(ctx context.Context, wait bool) (release func(), err error) {
	release = func() { <-s.trading }
	if !wait {
		select {
		case s.trading <- struct{}{}:
			return release, nil
		default:
			return nil, fmt.Errorf("%w: user %s", domain.ErrTradeInProgress, s.UserID)
		}
	}
	select {
	case s.trading <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: user %s: %v", domain.ErrTradeInProgress, s.UserID, ctx.Err())
	}
}
