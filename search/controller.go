// Package search 实现输入框的增量补全：防抖、可取消，并丢弃过期响应。
package search

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"papertrade-go/domain"
)

// Provider 外部搜索服务，按相关度返回有序结果。
type Provider interface {
	Search(ctx context.Context, text string) ([]domain.Suggestion, error)
}

// Warner 非致命告警出口。
type Warner interface {
	SendWarning(message string, fields map[string]interface{}) error
}

// EventLogger 结构化事件输出。
type EventLogger interface {
	LogSearch(event string, fields map[string]interface{})
}

// Metrics 查询计数。
type Metrics interface {
	RecordSearchIssued()
	RecordSearchDiscarded()
	RecordSearchFailed()
}

// Config 防抖与结果参数，可热更新。
type Config struct {
	Debounce   time.Duration
	MinLength  int
	MaxResults int
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:   300 * time.Millisecond,
		MinLength:  2,
		MaxResults: 10,
		Timeout:    5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if c.MinLength <= 0 {
		c.MinLength = def.MinLength
	}
	if c.MaxResults <= 0 {
		c.MaxResults = def.MaxResults
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Controller 单个输入框的补全控制器。Input 从不阻塞调用方。
type Controller struct {
	provider Provider
	sched    Scheduler
	warner   Warner
	events   EventLogger
	metrics  Metrics
	onChange func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cfg      Config
	state    State
	timer    Task
	timerGen uint64
	seq      uint64
	closed   bool
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

func WithWarner(w Warner) Option {
	return func(c *Controller) { c.warner = w }
}

func WithEventLogger(l EventLogger) Option {
	return func(c *Controller) { c.events = l }
}

func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithOnChange 状态变化回调，在锁外调用。
func WithOnChange(f func(State)) Option {
	return func(c *Controller) { c.onChange = f }
}

func NewController(provider Provider, cfg Config, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		provider: provider,
		sched:    RealScheduler,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTuning 热更新参数；对下一次按键生效。
func (c *Controller) SetTuning(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

// Input 每次按键调用。取消未触发的防抖定时器；输入过短回到 Idle，否则重新计时。
func (c *Controller) Input(raw string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	query := strings.TrimSpace(raw)
	if utf8.RuneCountInString(query) < c.cfg.MinLength {
		st := c.setLocked(State{Phase: PhaseIdle, Suggestions: []domain.Suggestion{}})
		c.mu.Unlock()
		c.emit(st)
		return
	}
	gen := c.timerGen
	c.timer = c.sched.AfterFunc(c.cfg.Debounce, func() { c.fire(gen, query) })
	st := c.setLocked(State{Phase: PhasePendingDebounce, Query: query})
	c.mu.Unlock()
	c.emit(st)
}

// State 当前状态副本。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Suggestions 已解析的补全列表；未处于 Resolved 时为空。
func (c *Controller) Suggestions() []domain.Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != PhaseResolved {
		return []domain.Suggestion{}
	}
	return append([]domain.Suggestion{}, c.state.Suggestions...)
}

// Close 停止定时器，放弃在途查询结果并等待后台 goroutine 退出。
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Stop 失败时回调可能已在排队，代际号让它失效。
	c.timerGen++
}

func (c *Controller) fire(gen uint64, query string) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.seq++
	id := c.seq
	timeout := c.cfg.Timeout
	maxResults := c.cfg.MaxResults
	st := c.setLocked(State{Phase: PhaseInFlight, Query: query, Seq: id})
	c.wg.Add(1)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordSearchIssued()
	}
	c.logEvent("search_issued", map[string]interface{}{"query": query, "seq": id})
	c.emit(st)

	go c.lookup(id, query, timeout, maxResults)
}

func (c *Controller) lookup(id uint64, query string, timeout time.Duration, maxResults int) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	results, err := c.provider.Search(ctx, query)
	c.resolve(id, query, results, err, maxResults)
}

func (c *Controller) resolve(id uint64, query string, results []domain.Suggestion, err error, maxResults int) {
	c.mu.Lock()
	if c.closed || c.state.Phase != PhaseInFlight || c.state.Seq != id {
		latest := c.seq
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordSearchDiscarded()
		}
		c.logEvent("search_discarded", map[string]interface{}{"query": query, "seq": id, "latest": latest})
		return
	}
	next := State{Phase: PhaseResolved, Query: query, Seq: id, Suggestions: []domain.Suggestion{}}
	if err != nil {
		next.Warning = err.Error()
	} else {
		if len(results) > maxResults {
			results = results[:maxResults]
		}
		next.Suggestions = append(next.Suggestions, results...)
	}
	st := c.setLocked(next)
	c.mu.Unlock()

	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSearchFailed()
		}
		if c.warner != nil {
			_ = c.warner.SendWarning("symbol search failed", map[string]interface{}{
				"query": query,
				"error": err.Error(),
			})
		}
	}
	c.logEvent("search_resolved", map[string]interface{}{"query": query, "seq": id, "count": len(st.Suggestions)})
	c.emit(st)
}

func (c *Controller) setLocked(s State) State {
	s.Rev = c.state.Rev + 1
	c.state = s
	return s.clone()
}

func (c *Controller) emit(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}

func (c *Controller) logEvent(event string, fields map[string]interface{}) {
	if c.events != nil {
		c.events.LogSearch(event, fields)
	}
}
