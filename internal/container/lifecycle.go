package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade-go/infrastructure/logger"
	internalcfg "papertrade-go/internal/config"
)

// Component 容器托管的后台组件（状态服务、配置热更新）。
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动，逆序停止。
type LifecycleManager struct {
	mu         sync.Mutex
	components []Component
	started    []Component
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

func (m *LifecycleManager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// StartAll 任一组件启动失败时，已启动的组件被逆序停止。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.started) > 0 {
		return nil
	}
	for _, c := range m.components {
		if err := c.Start(ctx); err != nil {
			stopReverse(m.started)
			m.started = nil
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
	}
	return nil
}

// StopAll 可重复调用；返回所有组件的停止错误。
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := stopReverse(m.started)
	m.started = nil
	return err
}

func stopReverse(cs []Component) error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", cs[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Health 每个组件的健康状态，nil 为正常。
func (m *LifecycleManager) Health() map[string]error {
	m.mu.Lock()
	cs := append([]Component(nil), m.components...)
	m.mu.Unlock()
	out := make(map[string]error, len(cs))
	for _, c := range cs {
		out[c.Name()] = c.Health()
	}
	return out
}

// CheckHealth 按注册顺序返回第一个异常。
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	cs := append([]Component(nil), m.components...)
	m.mu.Unlock()
	for _, c := range cs {
		if err := c.Health(); err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}
	}
	return nil
}

// statusServer 状态 HTTP 服务；addr 端口为 0 时 Addr 返回实际端口。
type statusServer struct {
	addr    string
	handler http.Handler
	logger  *logger.Logger

	mu    sync.Mutex
	srv   *http.Server
	bound string
}

func (s *statusServer) Name() string { return "status_server" }

func (s *statusServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.bound = ln.Addr().String()

	go func() {
		s.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError(err, map[string]interface{}{"component": s.Name(), "action": "serve"})
		}
	}()
	return nil
}

func (s *statusServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	s.bound = ""
	return err
}

func (s *statusServer) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return errors.New("not started")
	}
	return nil
}

func (s *statusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

type hotReloadComponent struct {
	reloader *internalcfg.HotReloader
}

func (h *hotReloadComponent) Name() string                    { return "config_reload" }
func (h *hotReloadComponent) Start(ctx context.Context) error { return h.reloader.Start(ctx) }
func (h *hotReloadComponent) Stop() error                     { return h.reloader.Stop() }
func (h *hotReloadComponent) Health() error                   { return nil }
