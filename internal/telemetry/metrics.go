// Package telemetry 定义 Prometheus 指标。
// 所有方法对 nil 接收者安全，未启用指标时调用方可直接传 nil。
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderbook-feed/internal/core/model"
)

// Metrics 指标集合
type Metrics struct {
	// registry 独立注册表，避免与全局默认注册表冲突
	registry *prometheus.Registry

	// SnapshotsApplied 发布的快照数量
	SnapshotsApplied *prometheus.CounterVec
	// ParseErrors 被丢弃的消息数量
	ParseErrors *prometheus.CounterVec
	// TransportErrors 连接层错误数量
	TransportErrors *prometheus.CounterVec
	// StaleDrops 来自已失效通道的回调数量
	StaleDrops prometheus.Counter
	// ConnectionState 当前连接状态（0=disconnected 1=connecting 2=connected 3=errored）
	ConnectionState prometheus.Gauge
	// Generation 当前通道代号
	Generation prometheus.Gauge
	// InterArrival 相邻快照到达间隔
	InterArrival *prometheus.HistogramVec

	// ProxyRequests 代理服务请求数量
	ProxyRequests *prometheus.CounterVec
	// ProxyUpstreamDuration 代理上游耗时
	ProxyUpstreamDuration prometheus.Histogram
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SnapshotsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderbook_snapshots_applied_total",
				Help: "Snapshots published to subscribers by symbol and source",
			},
			[]string{"symbol", "source"},
		),

		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderbook_parse_errors_total",
				Help: "Messages dropped because they failed to parse",
			},
			[]string{"symbol"},
		),

		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderbook_transport_errors_total",
				Help: "Connection-level failures by operation",
			},
			[]string{"symbol", "op"},
		),

		StaleDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orderbook_stale_callbacks_total",
				Help: "Callbacks ignored because their channel generation was torn down",
			},
		),

		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orderbook_connection_state",
				Help: "Adapter connection state (0=disconnected 1=connecting 2=connected 3=errored)",
			},
		),

		Generation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orderbook_channel_generation",
				Help: "Generation token of the active channel",
			},
		),

		InterArrival: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderbook_inter_arrival_ms",
				Help:    "Milliseconds between consecutive snapshots",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"symbol"},
		),

		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderbook_proxy_requests_total",
				Help: "Order book proxy requests by HTTP status",
			},
			[]string{"status"},
		),

		ProxyUpstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orderbook_proxy_upstream_duration_seconds",
				Help:    "Latency of upstream order book requests",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SnapshotsApplied,
		m.ParseErrors,
		m.TransportErrors,
		m.StaleDrops,
		m.ConnectionState,
		m.Generation,
		m.InterArrival,
		m.ProxyRequests,
		m.ProxyUpstreamDuration,
	)
	return m
}

// Registry 获取注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSnapshot 记录一次发布的快照
func (m *Metrics) ObserveSnapshot(symbol string, source model.Source) {
	if m == nil {
		return
	}
	m.SnapshotsApplied.WithLabelValues(symbol, string(source)).Inc()
}

// ObserveParseError 记录一次解析失败
func (m *Metrics) ObserveParseError(symbol string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(symbol).Inc()
}

// ObserveTransportError 记录一次连接层错误
func (m *Metrics) ObserveTransportError(symbol, op string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(symbol, op).Inc()
}

// ObserveStale 记录一次过期回调
func (m *Metrics) ObserveStale() {
	if m == nil {
		return
	}
	m.StaleDrops.Inc()
}

// SetState 更新连接状态与通道代号
func (m *Metrics) SetState(state model.ConnectionState, generation uint64) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
	m.Generation.Set(float64(generation))
}

// ObserveInterArrival 记录相邻快照间隔
func (m *Metrics) ObserveInterArrival(symbol string, ms float64) {
	if m == nil {
		return
	}
	m.InterArrival.WithLabelValues(symbol).Observe(ms)
}

// ObserveProxyRequest 记录一次代理请求
func (m *Metrics) ObserveProxyRequest(status int) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveUpstream 记录一次上游请求耗时
func (m *Metrics) ObserveUpstream(d time.Duration) {
	if m == nil {
		return
	}
	m.ProxyUpstreamDuration.Observe(d.Seconds())
}
