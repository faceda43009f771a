package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 交易指标
	tradesTotal    *prometheus.CounterVec
	tradedNotional *prometheus.CounterVec
	tradeRejects   *prometheus.CounterVec
	tradeRollbacks prometheus.Counter

	// 组合指标
	portfolioValue    prometheus.Gauge
	portfolioGainLoss prometheus.Gauge
	valuationPartial  prometheus.Counter

	// 搜索指标
	searchIssued    prometheus.Counter
	searchDiscarded prometheus.Counter
	searchFailed    prometheus.Counter

	// 后端请求
	restRequests *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
	breakerState prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "paper",
		Subsystem: "trading",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		tradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trades_total",
			Help:      "成交笔数",
		}, []string{"side"}),
		tradedNotional: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "traded_notional_total",
			Help:      "累计成交金额",
		}, []string{"side"}),
		tradeRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trade_rejects_total",
			Help:      "拒单次数（按原因）",
		}, []string{"reason"}),
		tradeRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trade_rollbacks_total",
			Help:      "持久化失败导致的回滚次数",
		}),

		portfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "portfolio",
			Name:      "value",
			Help:      "最近一次估值的持仓市值",
		}),
		portfolioGainLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "portfolio",
			Name:      "gain_loss",
			Help:      "最近一次估值的浮动盈亏",
		}),
		valuationPartial: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "portfolio",
			Name:      "valuation_partial_total",
			Help:      "缺少报价的估值次数",
		}),

		searchIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "search",
			Name:      "issued_total",
			Help:      "发出的搜索请求",
		}),
		searchDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "search",
			Name:      "discarded_total",
			Help:      "被丢弃的过期搜索响应",
		}),
		searchFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "search",
			Name:      "failed_total",
			Help:      "失败的搜索请求",
		}),

		restRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "后端 REST 请求（按接口与状态）",
		}, []string{"endpoint", "status"}),
		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "backend",
			Name:      "request_seconds",
			Help:      "后端 REST 延迟分布（秒）",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "backend",
			Name:      "breaker_state",
			Help:      "后端熔断器状态：0 关闭 1 打开 2 半开",
		}),
	}
}

// RecordTrade 记录一笔成交
func (m *Monitor) RecordTrade(side string, notional float64) {
	m.tradesTotal.WithLabelValues(side).Inc()
	if notional > 0 {
		m.tradedNotional.WithLabelValues(side).Add(notional)
	}
}

func (m *Monitor) RecordTradeRejected(reason string) {
	m.tradeRejects.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordRollback() {
	m.tradeRollbacks.Inc()
}

// UpdatePortfolio 更新组合市值与盈亏
func (m *Monitor) UpdatePortfolio(value, gainLoss float64) {
	m.portfolioValue.Set(value)
	m.portfolioGainLoss.Set(gainLoss)
}

func (m *Monitor) RecordValuationPartial() {
	m.valuationPartial.Inc()
}

func (m *Monitor) RecordSearchIssued()    { m.searchIssued.Inc() }
func (m *Monitor) RecordSearchDiscarded() { m.searchDiscarded.Inc() }
func (m *Monitor) RecordSearchFailed()    { m.searchFailed.Inc() }

// ObserveRequest 记录后端请求
func (m *Monitor) ObserveRequest(endpoint, status string, d time.Duration) {
	m.restRequests.WithLabelValues(endpoint, status).Inc()
	m.restLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Monitor) SetBreakerState(state int) {
	m.breakerState.Set(float64(state))
}

// Handler 返回Prometheus HTTP处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回Prometheus注册表
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
