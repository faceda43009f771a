// Package gateway 访问模拟交易后端的 REST 接口。
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"papertrade-go/domain"
)

// Metrics 请求计数与耗时。
type Metrics interface {
	ObserveRequest(endpoint string, status string, d time.Duration)
}

// ClientConfig 后端连接参数。
type ClientConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	// HTTPClient 可注入 httptest 的客户端。
	HTTPClient *http.Client
}

// Client 后端 REST 客户端，所有请求带 Bearer token。
type Client struct {
	rc      *resty.Client
	limiter RateLimiter
	breaker *Breaker
	metrics Metrics

	mu    sync.RWMutex
	token string
}

type ClientOption func(*Client)

func WithLimiter(l RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithBreaker 后端连续故障时快速失败。
func WithBreaker(b *Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

func WithRequestMetrics(m Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc.SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	c := &Client{rc: rc, token: cfg.Token, limiter: NewRateLimiter(cfg.RateLimit, cfg.Burst)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken 登录后更新 token。
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// TradeAck 后端 buy/sell 的确认消息。
type TradeAck struct {
	Message string `json:"message"`
}

// Buy POST /dashboard/buy?symbol=&quantity=
func (c *Client) Buy(ctx context.Context, symbol string, qty decimal.Decimal) (TradeAck, error) {
	return c.trade(ctx, "/dashboard/buy", symbol, qty)
}

// Sell POST /dashboard/sell?symbol=&quantity=
func (c *Client) Sell(ctx context.Context, symbol string, qty decimal.Decimal) (TradeAck, error) {
	return c.trade(ctx, "/dashboard/sell", symbol, qty)
}

func (c *Client) trade(ctx context.Context, path, symbol string, qty decimal.Decimal) (TradeAck, error) {
	var ack TradeAck
	req := c.request(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"quantity": qty.String(),
		}).
		SetResult(&ack)
	if err := c.do(req, http.MethodPost, path); err != nil {
		return TradeAck{}, err
	}
	return ack, nil
}

type portfolioEntry struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgBuyPrice  decimal.Decimal `json:"avgBuyPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	TotalValue   decimal.Decimal `json:"totalValue"`
}

// PortfolioView GET /dashboard/portfolio 的返回。
type PortfolioView struct {
	Holdings   []portfolioEntry `json:"portfolio"`
	Balance    decimal.Decimal  `json:"virtual_balance"`
	TotalValue decimal.Decimal  `json:"total_portfolio_value"`
}

// Portfolio 读取余额与持仓。
func (c *Client) Portfolio(ctx context.Context) (domain.Portfolio, error) {
	var view PortfolioView
	if err := c.do(c.request(ctx).SetResult(&view), http.MethodGet, "/dashboard/portfolio"); err != nil {
		return domain.Portfolio{}, err
	}
	out := domain.Portfolio{
		Balance:  view.Balance,
		Holdings: make([]domain.Holding, 0, len(view.Holdings)),
	}
	for _, e := range view.Holdings {
		name := e.Name
		if name == "" {
			name = e.Symbol
		}
		out.Holdings = append(out.Holdings, domain.Holding{
			Symbol:   domain.NormalizeSymbol(e.Symbol),
			Name:     name,
			Quantity: e.Quantity,
			AvgCost:  e.AvgBuyPrice,
		})
	}
	return out, nil
}

type profileResp struct {
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Balance decimal.Decimal `json:"virtual_balance"`
}

// Profile GET /dashboard/profile
func (c *Client) Profile(ctx context.Context) (domain.Profile, error) {
	var p profileResp
	if err := c.do(c.request(ctx).SetResult(&p), http.MethodGet, "/dashboard/profile"); err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{Name: p.Name, Email: p.Email, Balance: p.Balance}, nil
}

type suggestionResp struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// Search GET /analytics/search?query=
func (c *Client) Search(ctx context.Context, query string) ([]domain.Suggestion, error) {
	var items []suggestionResp
	req := c.request(ctx).SetQueryParam("query", query).SetResult(&items)
	if err := c.do(req, http.MethodGet, "/analytics/search"); err != nil {
		return nil, err
	}
	out := make([]domain.Suggestion, 0, len(items))
	for _, it := range items {
		if it.Symbol == "" {
			continue
		}
		out = append(out, domain.Suggestion{Symbol: it.Symbol, Name: it.Name, Exchange: it.Exchange})
	}
	return out, nil
}

type stockResp struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Volume        string          `json:"volume"`
	MarketCap     string          `json:"marketCap"`
}

func (s stockResp) toDomain() domain.StockDetails {
	return domain.StockDetails{
		Symbol:        domain.NormalizeSymbol(s.Symbol),
		Name:          s.Name,
		Price:         s.Price,
		Change:        s.Change,
		ChangePercent: s.ChangePercent,
		Volume:        s.Volume,
		MarketCap:     s.MarketCap,
	}
}

// Stock GET /analytics/stocks/{symbol}
func (c *Client) Stock(ctx context.Context, symbol string) (domain.StockDetails, error) {
	var s stockResp
	req := c.request(ctx).SetPathParam("symbol", symbol).SetResult(&s)
	if err := c.do(req, http.MethodGet, "/analytics/stocks/{symbol}"); err != nil {
		return domain.StockDetails{}, err
	}
	return s.toDomain(), nil
}

// Popular GET /analytics/stocks/popular
func (c *Client) Popular(ctx context.Context) ([]domain.StockDetails, error) {
	var items []stockResp
	if err := c.do(c.request(ctx).SetResult(&items), http.MethodGet, "/analytics/stocks/popular"); err != nil {
		return nil, err
	}
	out := make([]domain.StockDetails, 0, len(items))
	for _, it := range items {
		out = append(out, it.toDomain())
	}
	return out, nil
}

// LoginResult /auth/login 的返回。
type LoginResult struct {
	Token string
	Name  string
	Email string
}

type loginResp struct {
	Token string `json:"token"`
	User  struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
}

// Login POST /auth/login，成功后客户端改用新 token。
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var lr loginResp
	req := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&lr).
		SetError(&apiError{})
	if err := c.do(req, http.MethodPost, "/auth/login"); err != nil {
		return LoginResult{}, err
	}
	if lr.Token == "" {
		return LoginResult{}, fmt.Errorf("%w: empty token in login response", domain.ErrUnauthorized)
	}
	c.SetToken(lr.Token)
	return LoginResult{Token: lr.Token, Name: lr.User.Name, Email: lr.User.Email}, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.rc.R().SetContext(ctx).SetError(&apiError{})
	if tok := c.Token(); tok != "" {
		req.SetAuthToken(tok)
	}
	return req
}

func (c *Client) do(req *resty.Request, method, path string) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		c.observe(path, "rate_limited", 0)
		return classifyWait(req.Context(), method, path, err)
	}
	if c.breaker == nil {
		return c.execute(req, method, path)
	}
	if err := c.breaker.Allow(); err != nil {
		c.observe(path, "breaker_open", 0)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	err := c.execute(req, method, path)
	c.breaker.Record(err)
	return err
}

func (c *Client) execute(req *resty.Request, method, path string) error {
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.observe(path, "error", time.Since(start))
		return classifyTransport(method, path, err)
	}
	c.observe(path, strconv.Itoa(resp.StatusCode()), time.Since(start))
	if resp.IsError() || resp.StatusCode() >= 300 {
		detail := ""
		if ae, ok := resp.Error().(*apiError); ok && ae != nil {
			detail = ae.Detail
		}
		return classifyStatus(method, path, resp.StatusCode(), detail)
	}
	return nil
}

func (c *Client) observe(path, status string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveRequest(path, status, d)
	}
}
