package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"papertrade-go/domain"
	"papertrade-go/ledger"
)

// PortfolioLoader 会话开始时读取持久化的余额与持仓。
type PortfolioLoader interface {
	LoadPortfolio(ctx context.Context, userID string) (domain.Portfolio, error)
}

// Manager 按用户维护唯一会话。
type Manager struct {
	loader PortfolioLoader
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	opening  singleflight.Group
}

func NewManager(loader PortfolioLoader, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		loader:   loader,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open 加载组合并建立会话；同一用户已有会话时被替换。
func (m *Manager) Open(ctx context.Context, userID string, gate Gate) (*Session, error) {
	if gate == nil || !gate.IsAuthorized() {
		return nil, domain.ErrUnauthorized
	}
	l, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	s := New(userID, gate, l)
	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	m.logger.Info("session opened",
		zap.String("user", userID),
		zap.String("balance", l.Balance().String()),
		zap.Int("holdings", len(l.Snapshot().Holdings)))
	return s, nil
}

// GetOrOpen 返回用户已授权的会话；没有时加载一次。
// 同一用户的并发首次调用共享同一次加载，拿到同一个 Session。
func (m *Manager) GetOrOpen(ctx context.Context, userID string, gate Gate) (*Session, error) {
	if s, ok := m.Get(userID); ok && s.Authorized() {
		return s, nil
	}
	v, err, _ := m.opening.Do(userID, func() (interface{}, error) {
		// 前一轮 flight 可能刚结束
		if s, ok := m.Get(userID); ok && s.Authorized() {
			return s, nil
		}
		return m.Open(ctx, userID, gate)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get 返回已打开的会话。
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Refetch 重新加载并整体替换 Ledger；等待在途交易结束后再替换。
func (m *Manager) Refetch(ctx context.Context, s *Session) error {
	if !s.Authorized() {
		return domain.ErrUnauthorized
	}
	release, err := s.Acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release()
	l, err := m.load(ctx, s.UserID)
	if err != nil {
		return err
	}
	s.replaceLedger(l)
	m.logger.Info("session refetched", zap.String("user", s.UserID))
	return nil
}

// Close 登出：丢弃会话与其 Ledger。
func (m *Manager) Close(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		if tg, isToken := s.Gate.(*TokenGate); isToken {
			tg.Revoke()
		}
		m.logger.Info("session closed", zap.String("user", userID))
	}
}

func (m *Manager) load(ctx context.Context, userID string) (*ledger.Ledger, error) {
	if m.loader == nil {
		return nil, fmt.Errorf("portfolio loader not set")
	}
	p, err := m.loader.LoadPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio for %s: %w", userID, err)
	}
	l, err := ledger.New(p.Balance, p.Holdings)
	if err != nil {
		return nil, fmt.Errorf("seed ledger for %s: %w", userID, err)
	}
	return l, nil
}
