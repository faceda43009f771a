// Package alert 非致命告警的分发（搜索失败、熔断切换、配置被拒等）。
// 同一告警在窗口期内只发一次，窗口内被压下的次数随下一次发出的告警一起报告。
package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

type Alert struct {
	Level   Level
	Message string
	Fields  map[string]interface{}
	At      time.Time
	// Suppressed 上一次发出之后被压下的同类告警数。
	Suppressed int
}

// Channel 告警出口
type Channel interface {
	Name() string
	Send(a Alert) error
}

type window struct {
	sent       time.Time
	suppressed int
}

// Manager 按 level+message 去重的告警扇出。
type Manager struct {
	mu       sync.Mutex
	channels []Channel
	every    time.Duration
	now      func() time.Time
	seen     map[string]*window
}

// NewManager every<=0 表示不去重。
func NewManager(channels []Channel, every time.Duration) *Manager {
	return &Manager{
		channels: channels,
		every:    every,
		now:      time.Now,
		seen:     make(map[string]*window),
	}
}

// Send 被窗口压下时返回 nil；所有通道都失败才返回错误。
func (m *Manager) Send(a Alert) error {
	m.mu.Lock()
	if a.At.IsZero() {
		a.At = m.now()
	}
	key := string(a.Level) + "|" + a.Message
	w, ok := m.seen[key]
	if ok && a.At.Sub(w.sent) < m.every {
		w.suppressed++
		m.mu.Unlock()
		return nil
	}
	if !ok {
		w = &window{}
		m.seen[key] = w
	}
	a.Suppressed = w.suppressed
	w.suppressed = 0
	w.sent = a.At
	channels := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 && len(errs) == len(channels) {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelInfo, Message: message, Fields: fields})
}

// SendWarning 搜索控制器等调用方的非致命提示入口。
func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelWarning, Message: message, Fields: fields})
}

func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelError, Message: message, Fields: fields})
}

// Channels 当前通道名
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}
