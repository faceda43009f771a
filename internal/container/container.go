package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-go/config"
	"papertrade-go/domain"
	"papertrade-go/gateway"
	"papertrade-go/infrastructure/alert"
	"papertrade-go/infrastructure/logger"
	"papertrade-go/infrastructure/monitor"
	internalcfg "papertrade-go/internal/config"
	"papertrade-go/search"
	"papertrade-go/session"
	"papertrade-go/store"
	"papertrade-go/trade"
	"papertrade-go/valuation"
)

// tokenTTL 与后端签发的 token 有效期一致（1 天）。
const tokenTTL = 24 * time.Hour

// ErrNoHistory 远端模式下没有本地成交记录。
var ErrNoHistory = errors.New("trade history requires store.driver=sqlite")

// persistence 账户持久化：会话加载 + 成交写入。
type persistence interface {
	session.PortfolioLoader
	trade.Recorder
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfgMu      sync.RWMutex
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 后端
	client  *gateway.Client
	breaker *gateway.Breaker
	quotes  *gateway.QuoteSource
	persist persistence
	sqlite  *store.SQLiteStore

	// 核心服务
	sessions *session.Manager
	executor *trade.Executor
	valuator *valuation.Valuator

	searchMu sync.Mutex
	searches []*search.Controller

	reloader  *internalcfg.HotReloader
	status    *statusServer
	lifecycle *LifecycleManager
}

// New 读取配置文件（含 .env 与 PAPER_* 覆盖）创建容器
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewWithConfig 使用已加载的配置
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	c.buildGateway()
	if err := c.buildStore(); err != nil {
		return fmt.Errorf("build store failed: %w", err)
	}
	c.buildCoreServices()
	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Debug("container built")
	return nil
}

func (c *Container) buildInfrastructure() error {
	cfg := c.Config()
	logCfg := logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputFile: cfg.Log.File,
	}
	switch cfg.Log.Output {
	case "file":
		logCfg.Outputs = []string{"file"}
	case "both":
		logCfg.Outputs = []string{"stdout", "file"}
	default:
		logCfg.Outputs = []string{"stdout"}
	}

	var err error
	c.logger, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewZapChannel("log", c.logger.Logger),
		alert.NewConsoleChannel("console", os.Stderr, cfg.Log.Format == "console"),
	}, 30*time.Second)
	return nil
}

func (c *Container) buildGateway() {
	cfg := c.Config()
	c.breaker = gateway.NewBreaker(gateway.BreakerConfig{
		Threshold: cfg.Backend.BreakerThreshold,
		Cooldown:  cfg.Backend.BreakerCooldown(),
	})
	c.breaker.OnStateChange(func(from, to gateway.BreakerState) {
		c.monitor.SetBreakerState(int(to))
		fields := map[string]interface{}{"from": from.String(), "to": to.String()}
		if to == gateway.BreakerOpen {
			_ = c.alerts.SendWarning("backend circuit breaker opened", fields)
			return
		}
		_ = c.alerts.SendInfo("backend circuit breaker "+to.String(), fields)
	})
	c.client = gateway.NewClient(gateway.ClientConfig{
		BaseURL:   cfg.Backend.BaseURL,
		Token:     cfg.Backend.Token,
		Timeout:   cfg.Backend.Timeout(),
		RateLimit: cfg.Backend.RateLimit,
		Burst:     cfg.Backend.Burst,
	}, gateway.WithRequestMetrics(c.monitor), gateway.WithBreaker(c.breaker))
	c.quotes = &gateway.QuoteSource{Client: c.client}
}

func (c *Container) buildStore() error {
	cfg := c.Config()
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := store.Open(cfg.Store.Path,
			store.WithInitialBalance(decimal.NewFromFloat(cfg.Store.InitialBalance)))
		if err != nil {
			return err
		}
		c.sqlite = s
		c.persist = s
	default:
		c.persist = &gateway.RemoteStore{Client: c.client}
	}
	return nil
}

func (c *Container) buildCoreServices() {
	cfg := c.Config()
	c.sessions = session.NewManager(c.persist, c.logger.Logger)
	c.executor = trade.NewExecutor(c.quotes, c.persist, tradeConfig(cfg.Trade),
		trade.WithEventLogger(c.logger),
		trade.WithMetrics(c.monitor))
	c.valuator = valuation.NewValuator(c.quotes,
		valuation.WithTimeout(cfg.Trade.QuoteTimeout()),
		valuation.WithEventLogger(c.logger),
		valuation.WithMetrics(c.monitor))
}

func (c *Container) registerLifecycleComponents() error {
	if c.configPath != "" {
		r, err := internalcfg.NewHotReloader(c.configPath, internalcfg.DefaultHotReloadConfig(), c.logger.Logger)
		if err != nil {
			return err
		}
		r.Register("search", internalcfg.SearchSection(c.applySearch))
		r.Register("trade", internalcfg.TradeSection(c.applyTrade))
		c.reloader = r
		c.lifecycle.Register(&hotReloadComponent{reloader: r})
	}
	c.status = &statusServer{
		addr:    c.Config().Status.Addr,
		handler: c.StatusHandler(),
		logger:  c.logger,
	}
	c.lifecycle.Register(c.status)
	return nil
}

func tradeConfig(t config.TradeConfig) trade.Config {
	return trade.Config{
		OnConflict:   trade.ConflictPolicy(t.OnConflict),
		QuoteTimeout: t.QuoteTimeout(),
	}
}

func searchConfig(s config.SearchConfig) search.Config {
	return search.Config{
		Debounce:   s.Debounce(),
		MinLength:  s.MinLength,
		MaxResults: s.MaxResults,
		Timeout:    s.Timeout(),
	}
}

// Config 当前生效的配置副本
func (c *Container) Config() config.AppConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Container) applySearch(next config.AppConfig) error {
	c.cfgMu.Lock()
	c.cfg.Search = next.Search
	c.cfgMu.Unlock()

	tuning := searchConfig(next.Search)
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	for _, sc := range c.searches {
		sc.SetTuning(tuning)
	}
	return nil
}

func (c *Container) applyTrade(next config.AppConfig) error {
	c.cfgMu.Lock()
	c.cfg.Trade = next.Trade
	c.cfgMu.Unlock()
	c.executor.SetConfig(tradeConfig(next.Trade))
	return nil
}

func (c *Container) gate() session.Gate {
	if c.Config().Store.Driver == config.DriverSQLite {
		return session.StaticGate(true)
	}
	return session.NewTokenGate(c.client.Token(), tokenTTL, nil)
}

// OpenSession 返回当前用户的会话，不存在时从持久化加载。
func (c *Container) OpenSession(ctx context.Context) (*session.Session, error) {
	return c.sessions.GetOrOpen(ctx, c.Config().UserID, c.gate())
}

// Refresh 以持久化数据整体替换账本
func (c *Container) Refresh(ctx context.Context) error {
	s, err := c.OpenSession(ctx)
	if err != nil {
		return err
	}
	return c.sessions.Refetch(ctx, s)
}

// Login 登录后端，旧会话作废。
func (c *Container) Login(ctx context.Context, email, password string) (gateway.LoginResult, error) {
	res, err := c.client.Login(ctx, email, password)
	if err != nil {
		return res, err
	}
	c.sessions.Close(c.Config().UserID)
	c.cfgMu.Lock()
	c.cfg.Backend.Token = res.Token
	c.cfgMu.Unlock()
	return res, nil
}

// Logout 丢弃会话与 token
func (c *Container) Logout() {
	c.sessions.Close(c.Config().UserID)
	c.client.SetToken("")
}

// Trade 执行一笔市价单
func (c *Container) Trade(ctx context.Context, req domain.TradeRequest) (domain.Receipt, error) {
	s, err := c.OpenSession(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	return c.executor.Execute(ctx, s, req)
}

// Summary 组合估值
func (c *Container) Summary(ctx context.Context) (valuation.Summary, error) {
	s, err := c.OpenSession(ctx)
	if err != nil {
		return valuation.Summary{}, err
	}
	return c.valuator.Value(ctx, s)
}

// Profile 远端模式读取后端资料，本地模式用账本余额。
func (c *Container) Profile(ctx context.Context) (domain.Profile, error) {
	if c.sqlite == nil {
		return c.client.Profile(ctx)
	}
	s, err := c.OpenSession(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{Name: s.UserID, Balance: s.Ledger().Balance()}, nil
}

// Trades 本地成交记录
func (c *Container) Trades(ctx context.Context, limit int) ([]domain.Receipt, error) {
	if c.sqlite == nil {
		return nil, ErrNoHistory
	}
	return c.sqlite.Trades(ctx, c.Config().UserID, limit)
}

// Stock 个股详情
func (c *Container) Stock(ctx context.Context, symbol string) (domain.StockDetails, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := domain.ValidateSymbol(symbol); err != nil {
		return domain.StockDetails{}, err
	}
	return c.client.Stock(ctx, symbol)
}

// Popular 热门股票
func (c *Container) Popular(ctx context.Context) ([]domain.StockDetails, error) {
	return c.client.Popular(ctx)
}

// NewSearchController 创建搜索补全控制器，参数随热更新变化，Stop 时关闭。
func (c *Container) NewSearchController(onChange func(search.State)) *search.Controller {
	opts := []search.Option{
		search.WithWarner(c.alerts),
		search.WithEventLogger(c.logger),
		search.WithMetrics(c.monitor),
	}
	if onChange != nil {
		opts = append(opts, search.WithOnChange(onChange))
	}
	sc := search.NewController(&gateway.SearchSource{Client: c.client}, searchConfig(c.Config().Search), opts...)
	c.searchMu.Lock()
	c.searches = append(c.searches, sc)
	c.searchMu.Unlock()
	return sc
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started", zap.String("status_addr", c.StatusAddr()))
	return nil
}

// Stop 停止后台组件并释放资源
func (c *Container) Stop() error {
	var firstErr error
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		firstErr = err
	}

	c.searchMu.Lock()
	searches := c.searches
	c.searches = nil
	c.searchMu.Unlock()
	for _, sc := range searches {
		sc.Close()
	}

	if c.sqlite != nil {
		if err := c.sqlite.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return firstErr
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// StatusAddr 状态服务实际监听地址，未启动时为空。
func (c *Container) StatusAddr() string {
	if c.status == nil {
		return ""
	}
	return c.status.Addr()
}

// Client 后端客户端（CLI 登录后写入 token 用）
func (c *Container) Client() *gateway.Client { return c.client }

// Alerts 告警管理器
func (c *Container) Alerts() *alert.Manager { return c.alerts }

// Logger 结构化日志
func (c *Container) Logger() *logger.Logger { return c.logger }
