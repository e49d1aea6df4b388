// Package feed 实现订单簿传输适配器。
// 每个 (symbol, mode) 只维持一个活动通道：streaming 模式为深度推送，polling 模式为定时 REST 拉取。
//
// 每次打开通道都会分配新的通道代号（generation）。所有修改状态的回调都携带创建时的代号，
// 与当前代号不一致时直接忽略：切换交易对、重连、关闭之后，旧通道迟到的消息和请求结果不会再生效，
// 旧通道的断开也不会表现为连接错误。
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/exchange/binance"
	"orderbook-feed/internal/stats/cadence"
	"orderbook-feed/internal/telemetry"
	"orderbook-feed/internal/util/backoff"
	"orderbook-feed/internal/util/timeutil"
)

// ErrNotOpen 适配器尚未打开过任何通道
var ErrNotOpen = errors.New("适配器尚未打开")

// DepthStream 深度推送通道
// Stream 阻塞直到 ctx 取消（返回 nil）或通道结束；对端正常关闭返回 nil，出错返回错误。
type DepthStream interface {
	Stream(ctx context.Context, symbol string, h binance.Handler) error
}

// SnapshotFetcher REST 深度拉取
type SnapshotFetcher interface {
	Fetch(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error)
}

// SymbolResolver 交易对校验
// 不支持的交易对返回 *model.ConfigurationError
type SymbolResolver interface {
	Resolve(symbol string) (string, error)
}

// Option 适配器可选项
type Option func(*Adapter)

// WithMetrics 上报 Prometheus 指标
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithCadence 统计快照到达节奏
func WithCadence(t *cadence.Tracker) Option {
	return func(a *Adapter) { a.cadence = t }
}

// WithObserver 每次发布状态时同步调用 fn
// fn 在适配器锁内执行，不得阻塞，也不得回调适配器。
func WithObserver(fn func(model.View)) Option {
	return func(a *Adapter) { a.observer = fn }
}

// fetchKind REST 拉取的用途
type fetchKind int

const (
	// fetchPoll 定时轮询或手动刷新
	fetchPoll fetchKind = iota
	// fetchWarmup streaming 模式连接期间的预热
	fetchWarmup
)

// Adapter 订单簿传输适配器，可并发使用
type Adapter struct {
	// enabled 是否启用，关闭时不打开任何通道
	enabled bool
	// defaultMode 初始传输模式
	defaultMode model.Mode
	// pollInterval 轮询间隔
	pollInterval time.Duration
	// warmup streaming 模式是否先做 REST 预热
	warmup bool

	resolver SymbolResolver
	stream   DepthStream
	rest     SnapshotFetcher
	logger   *zap.Logger
	// limiter 手动刷新限速
	limiter *rate.Limiter
	metrics  *telemetry.Metrics
	cadence  *cadence.Tracker
	observer func(model.View)

	mu sync.Mutex
	// baseCtx 最近一次 Open 传入的上下文，所有通道都从它派生
	baseCtx context.Context
	// gen 当前通道代号
	gen uint64
	// genCtx 当前通道的上下文
	genCtx context.Context
	// cancel 取消当前通道，未打开或已关闭时为 nil
	cancel context.CancelFunc
	// genWG 当前通道的协程
	genWG *sync.WaitGroup
	// streamSeen 当前通道是否已收到推送数据
	streamSeen bool
	// reconnect 推送通道出错后的重连退避，未启用时为 nil
	reconnect *backoff.Backoff
	// view 对外暴露的状态
	view model.View
	// updates 状态更新通道，容量 1，只保留最新值
	updates chan model.View
}

// New 创建传输适配器
// 参数 cfg: 应用配置（使用 feed 部分）
// 参数 resolver: 交易对校验，通常为 *metadata.Registry
// 参数 stream: 深度推送通道
// 参数 rest: REST 深度拉取
// 参数 logger: 日志记录器
func New(cfg *config.Config, resolver SymbolResolver, stream DepthStream, rest SnapshotFetcher, logger *zap.Logger, opts ...Option) *Adapter {
	limit := rate.Inf
	if cfg.Feed.RefreshRPS > 0 {
		limit = rate.Limit(cfg.Feed.RefreshRPS)
	}

	a := &Adapter{
		enabled:      cfg.FeedEnabled(),
		defaultMode:  cfg.FeedMode(),
		pollInterval: timeutil.MsToDuration(cfg.Feed.PollIntervalMs),
		warmup:       cfg.WarmupEnabled(),
		resolver:     resolver,
		stream:       stream,
		rest:         rest,
		logger:       logger.Named("feed"),
		limiter:      rate.NewLimiter(limit, 1),
		genWG:        &sync.WaitGroup{},
		updates:      make(chan model.View, 1),
	}
	if rc := cfg.Feed.Reconnect; rc.Enabled {
		a.reconnect = backoff.New(timeutil.MsToDuration(rc.BaseMs), timeutil.MsToDuration(rc.MaxMs), rc.Jitter, rc.MaxAttempts)
	}
	a.view.Mode = a.defaultMode
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open 打开 (symbol, mode) 通道
// 已有通道会先被静默关闭（不发布 Disconnected），当前快照清空。
// 参数 ctx: 通道生命周期上限，取消后通道随之关闭
// 参数 symbol: 交易对，不支持时同步返回 *model.ConfigurationError 且不改变任何状态
// 参数 mode: 传输模式
func (a *Adapter) Open(ctx context.Context, symbol string, mode model.Mode) error {
	id, err := a.resolver.Resolve(symbol)
	if err != nil {
		return err
	}
	if mode != model.ModeStreaming && mode != model.ModePolling {
		return &model.ConfigurationError{Symbol: symbol, Err: fmt.Errorf("未知的传输模式 %q", mode)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.baseCtx = ctx
	a.view = model.View{Symbol: id, Mode: mode}
	if a.reconnect != nil {
		a.reconnect.Reset()
	}
	a.restartLocked()
	a.logger.Info("打开订单簿通道",
		zap.String("symbol", id),
		zap.String("mode", string(mode)),
		zap.Uint64("generation", a.gen))
	return nil
}

// SetSymbol 切换交易对，沿用当前模式
// 与当前交易对相同且通道已打开时不做任何事
func (a *Adapter) SetSymbol(symbol string) error {
	a.mu.Lock()
	ctx, mode, current, open := a.baseCtx, a.view.Mode, a.view.Symbol, a.cancel != nil
	a.mu.Unlock()

	if open {
		if id, err := a.resolver.Resolve(symbol); err == nil && id == current {
			return nil
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return a.Open(ctx, symbol, mode)
}

// SetMode 切换传输模式，沿用当前交易对
func (a *Adapter) SetMode(mode model.Mode) error {
	a.mu.Lock()
	ctx, symbol, current, open := a.baseCtx, a.view.Symbol, a.view.Mode, a.cancel != nil
	a.mu.Unlock()

	if symbol == "" {
		return ErrNotOpen
	}
	if open && mode == current {
		return nil
	}
	return a.Open(ctx, symbol, mode)
}

// Reconnect 以相同的交易对与模式重新打开通道，保留当前快照
// 关闭后的适配器也可以通过 Reconnect 恢复；Open 传入的上下文已取消时需重新 Open
func (a *Adapter) Reconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.view.Symbol == "" {
		return ErrNotOpen
	}
	if a.reconnect != nil {
		a.reconnect.Reset()
	}
	a.restartLocked()
	a.logger.Info("重新打开订单簿通道",
		zap.String("symbol", a.view.Symbol),
		zap.Uint64("generation", a.gen))
	return nil
}

// Refresh 立即刷新，不等待轮询计时器
// streaming 模式等同 Reconnect；polling 模式在当前通道内同步拉取一次。
// 受 feed.refresh_rps 限速。等待或拉取期间 ctx 取消则返回 ctx 的错误，不计为上游错误。
func (a *Adapter) Refresh(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.view.Symbol == "" {
		a.mu.Unlock()
		return ErrNotOpen
	}
	if a.view.Mode == model.ModeStreaming || a.cancel == nil {
		a.restartLocked()
		a.mu.Unlock()
		return nil
	}
	gen, symbol, genCtx := a.gen, a.view.Symbol, a.genCtx
	a.view.Loading = true
	a.publishLocked()
	a.mu.Unlock()

	fetchCtx, cancel := context.WithCancel(genCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	snap, err := a.rest.Fetch(fetchCtx, symbol)
	if ctx.Err() != nil {
		// 调用方放弃等待，不是上游错误
		a.clearLoading(gen)
		return ctx.Err()
	}
	a.finishFetch(gen, fetchPoll, snap, err)
	return nil
}

// Close 关闭当前通道并等待其协程退出
// 关闭后发布 Disconnected，保留最后一份快照；之后迟到的结果一律丢弃。
func (a *Adapter) Close() error {
	a.mu.Lock()
	wg, symbol := a.genWG, a.view.Symbol
	a.teardownLocked()
	a.view.State = model.StateDisconnected
	a.view.IsConnected = false
	a.view.Loading = false
	a.view.Generation = a.gen
	a.publishLocked()
	a.mu.Unlock()

	wg.Wait()
	a.logger.Info("订单簿通道已关闭", zap.String("symbol", symbol))
	return nil
}

// View 获取当前状态
// 返回的快照在发布后不会再被修改，可直接读取。
func (a *Adapter) View() model.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

// Updates 状态更新通道
// 容量为 1：消费者来不及读取时只能看到最新一次状态。
func (a *Adapter) Updates() <-chan model.View {
	return a.updates
}

// Generation 当前通道代号
func (a *Adapter) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// teardownLocked 取消当前通道并推进代号
// 调用后旧通道的所有回调都会被视为过期。
func (a *Adapter) teardownLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.genCtx = nil
	a.streamSeen = false
	a.gen++
}

// restartLocked 关闭旧通道并按当前 view 的交易对与模式打开新通道
// 不发布中间的 Disconnected 状态。
func (a *Adapter) restartLocked() {
	a.teardownLocked()

	a.view.Generation = a.gen
	a.view.Error = ""

	if !a.enabled {
		a.view.State = model.StateDisconnected
		a.view.IsConnected = false
		a.view.Loading = false
		a.publishLocked()
		return
	}

	parent := a.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	a.genCtx = ctx
	a.cancel = cancel
	wg := &sync.WaitGroup{}
	a.genWG = wg

	gen, symbol := a.gen, a.view.Symbol
	a.view.Loading = true

	switch a.view.Mode {
	case model.ModePolling:
		// 计时器存续期间视为已连接
		a.view.State = model.StateConnected
		a.view.IsConnected = true
		wg.Add(1)
		go a.runPolling(ctx, wg, gen, symbol)
	default:
		a.view.State = model.StateConnecting
		a.view.IsConnected = false
		wg.Add(1)
		go a.runStream(ctx, wg, gen, symbol)
		if a.warmup && a.view.Data == nil {
			wg.Add(1)
			go a.runWarmup(ctx, wg, gen, symbol)
		}
	}

	a.publishLocked()
}

// runPolling 立即拉取一次，之后按固定间隔拉取，直到通道被取消
func (a *Adapter) runPolling(ctx context.Context, wg *sync.WaitGroup, gen uint64, symbol string) {
	defer wg.Done()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		snap, err := a.rest.Fetch(ctx, symbol)
		if ctx.Err() != nil {
			a.ownerDone(gen)
			return
		}
		a.finishFetch(gen, fetchPoll, snap, err)

		select {
		case <-ctx.Done():
			a.ownerDone(gen)
			return
		case <-ticker.C:
		}
	}
}

// runWarmup 推送连接期间先拉取一次 REST 快照
func (a *Adapter) runWarmup(ctx context.Context, wg *sync.WaitGroup, gen uint64, symbol string) {
	defer wg.Done()
	snap, err := a.rest.Fetch(ctx, symbol)
	if ctx.Err() != nil {
		return
	}
	a.finishFetch(gen, fetchWarmup, snap, err)
}

// runStream 运行推送通道直到取消或出错
func (a *Adapter) runStream(ctx context.Context, wg *sync.WaitGroup, gen uint64, symbol string) {
	defer wg.Done()

	err := a.stream.Stream(ctx, symbol, binance.Handler{
		OnOpen: func() {
			a.logger.Debug("推送通道握手成功", zap.String("symbol", symbol), zap.Uint64("generation", gen))
		},
		OnSnapshot: func(snap *model.OrderBookSnapshot) {
			a.applyStream(gen, snap)
		},
		OnParseError: func(err error) {
			a.metrics.ObserveParseError(symbol)
		},
	})
	if ctx.Err() != nil {
		a.ownerDone(gen)
		return
	}

	delay, retry := a.streamEnded(gen, symbol, err)
	if !retry {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		a.ownerDone(gen)
		return
	case <-timer.C:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return
	}
	a.logger.Info("推送通道自动重连", zap.String("symbol", symbol), zap.Int("attempt", a.reconnect.Attempt()))
	a.restartLocked()
}

// ownerDone 通道上下文已结束
// 代号已推进说明是主动关闭或被新通道替换，直接忽略；
// 代号未变说明 Open 传入的上下文被取消，此时关闭通道并发布 Disconnected，保留最后一份快照。
func (a *Adapter) ownerDone(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen {
		return
	}
	symbol := a.view.Symbol
	a.teardownLocked()
	a.view.State = model.StateDisconnected
	a.view.IsConnected = false
	a.view.Loading = false
	a.view.Generation = a.gen
	a.publishLocked()
	a.logger.Info("上下文已取消，订单簿通道关闭", zap.String("symbol", symbol))
}

// clearLoading 结束当前代号的加载状态
func (a *Adapter) clearLoading(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen || !a.view.Loading {
		return
	}
	a.view.Loading = false
	a.publishLocked()
}

// streamEnded 推送通道结束：出错为 Errored，对端正常关闭为 Disconnected，保留最后一份快照
// 返回: 是否按退避策略重连及等待时间
func (a *Adapter) streamEnded(gen uint64, symbol string, err error) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen {
		a.metrics.ObserveStale()
		return 0, false
	}

	a.view.IsConnected = false
	a.view.Loading = false
	if err != nil {
		a.view.State = model.StateErrored
		a.view.Error = (&model.TransportError{Op: "WebSocket connection error", Err: err}).Error()
		a.metrics.ObserveTransportError(symbol, "stream")
		a.logger.Warn("推送通道出错", zap.String("symbol", symbol), zap.Error(err))
	} else {
		a.view.State = model.StateDisconnected
		a.logger.Info("推送通道已断开", zap.String("symbol", symbol))
	}
	a.publishLocked()

	if a.reconnect == nil {
		return 0, false
	}
	delay, ok := a.reconnect.Next()
	if !ok {
		a.logger.Warn("重连次数已用尽", zap.String("symbol", symbol), zap.Int("attempts", a.reconnect.Attempt()))
	}
	return delay, ok
}

// applyStream 发布一条推送快照
func (a *Adapter) applyStream(gen uint64, snap *model.OrderBookSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen {
		a.metrics.ObserveStale()
		return
	}

	a.streamSeen = true
	a.view.State = model.StateConnected
	a.view.IsConnected = true
	a.view.Error = ""
	if a.reconnect != nil {
		a.reconnect.Reset()
	}
	a.setDataLocked(snap)
}

// finishFetch 处理一次 REST 拉取结果
// 解析失败静默丢弃；连接层错误只在轮询/刷新时以字符串形式暴露，快照保留。
func (a *Adapter) finishFetch(gen uint64, kind fetchKind, snap *model.OrderBookSnapshot, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.gen {
		a.metrics.ObserveStale()
		return
	}
	// 推送数据优先于预热数据
	if kind == fetchWarmup && a.streamSeen {
		return
	}

	if err != nil {
		symbol := a.view.Symbol
		var parseErr *model.ParseError
		switch {
		case errors.As(err, &parseErr):
			a.metrics.ObserveParseError(symbol)
		case kind == fetchWarmup:
			a.metrics.ObserveTransportError(symbol, "warmup")
			a.logger.Warn("预热拉取失败", zap.String("symbol", symbol), zap.Error(err))
		default:
			a.metrics.ObserveTransportError(symbol, "fetch")
			a.view.Error = err.Error()
		}
		a.view.Loading = false
		a.publishLocked()
		return
	}

	if kind == fetchPoll {
		a.view.Error = ""
	}
	a.setDataLocked(snap)
}

// setDataLocked 替换当前快照并发布
func (a *Adapter) setDataLocked(snap *model.OrderBookSnapshot) {
	a.view.Data = snap
	a.view.Loading = false

	a.metrics.ObserveSnapshot(snap.Symbol, snap.Source)
	if a.cadence != nil {
		if ms := a.cadence.Add(a.view.Symbol, snap.ReceivedAtUnixNs, snap.ExchTsUnixMs); ms > 0 {
			a.metrics.ObserveInterArrival(a.view.Symbol, ms)
		}
	}
	a.publishLocked()
}

// publishLocked 发布当前状态，丢弃未被读取的旧状态
func (a *Adapter) publishLocked() {
	a.metrics.SetState(a.view.State, a.gen)
	if a.observer != nil {
		a.observer(a.view)
	}

	select {
	case <-a.updates:
	default:
	}
	select {
	case a.updates <- a.view:
	default:
	}
}
