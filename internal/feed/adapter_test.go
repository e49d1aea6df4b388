package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/exchange/binance"
	"orderbook-feed/internal/metadata"
	"orderbook-feed/internal/telemetry"
)

const waitTimeout = 3 * time.Second

// fakeConn 测试用推送通道
type fakeConn struct {
	symbol string
	h      binance.Handler
	push   chan *model.OrderBookSnapshot
	fail   chan error
	ended  chan struct{}
}

// send 通过通道投递一条快照
func (c *fakeConn) send(t *testing.T, snap *model.OrderBookSnapshot) {
	t.Helper()
	select {
	case c.push <- snap:
	case <-time.After(waitTimeout):
		t.Fatal("投递快照超时")
	}
}

// fakeStream 测试用推送源，每次 Stream 调用产生一个 fakeConn
type fakeStream struct {
	conns chan *fakeConn
}

func newFakeStream() *fakeStream {
	return &fakeStream{conns: make(chan *fakeConn, 16)}
}

func (f *fakeStream) Stream(ctx context.Context, symbol string, h binance.Handler) error {
	c := &fakeConn{
		symbol: symbol,
		h:      h,
		push:   make(chan *model.OrderBookSnapshot),
		fail:   make(chan error, 1),
		ended:  make(chan struct{}),
	}
	defer close(c.ended)
	f.conns <- c
	if h.OnOpen != nil {
		h.OnOpen()
	}
	for {
		select {
		case <-ctx.Done():
			// 真实连接被关闭后读取也会报错
			return errors.New("use of closed network connection")
		case snap := <-c.push:
			h.OnSnapshot(snap)
		case err := <-c.fail:
			return err
		}
	}
}

// next 等待下一个通道被打开
func (f *fakeStream) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("等待推送通道超时")
		return nil
	}
}

// assertNoConn 断言短时间内没有新通道
func (f *fakeStream) assertNoConn(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.conns:
		t.Fatalf("不应打开通道, got %s", c.symbol)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeREST 测试用 REST 拉取
type fakeREST struct {
	calls int64
	fn    func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error)
}

func (f *fakeREST) Fetch(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error) {
	n := atomic.AddInt64(&f.calls, 1)
	return f.fn(ctx, symbol, n)
}

func (f *fakeREST) count() int64 {
	return atomic.LoadInt64(&f.calls)
}

func book(symbol string, updateID int64, source model.Source) *model.OrderBookSnapshot {
	return &model.OrderBookSnapshot{
		Symbol:           symbol,
		UpdateID:         updateID,
		Bids:             []model.OrderBookEntry{{Price: 100, Size: 2}},
		Asks:             []model.OrderBookEntry{{Price: 101, Size: 0.5}},
		ReceivedAtUnixNs: time.Now().UnixNano(),
		Source:           source,
	}
}

// stateLog 记录每一次发布的状态
type stateLog struct {
	mu    sync.Mutex
	views []model.View
}

func (l *stateLog) observe(v model.View) {
	l.mu.Lock()
	l.views = append(l.views, v)
	l.mu.Unlock()
}

func (l *stateLog) since(i int) []model.View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.View(nil), l.views[i:]...)
}

func (l *stateLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.views)
}

func testConfig() *config.Config {
	cfg := config.Default()
	warmup := false
	cfg.Feed.WarmupFetch = &warmup
	cfg.Feed.RefreshRPS = 1000
	cfg.Feed.PollIntervalMs = 20
	return cfg
}

func testRegistry() *metadata.Registry {
	return metadata.NewRegistry([]metadata.SymbolInfo{{ID: "BTCUSDT"}, {ID: "ETHUSDT"}})
}

func okREST() *fakeREST {
	return &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		return book(symbol, n, model.SourceREST), nil
	}}
}

func waitView(t *testing.T, a *Adapter, cond func(model.View) bool, msg string) model.View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(a.View()) }, waitTimeout, 5*time.Millisecond, msg)
	return a.View()
}

func TestOpen_UnsupportedSymbol(t *testing.T) {
	fs := newFakeStream()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())

	err := a.Open(context.Background(), "DOGEUSDT", model.ModeStreaming)

	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.ErrorIs(t, err, model.ErrUnsupportedSymbol)
	assert.Equal(t, uint64(0), a.Generation())
	assert.Equal(t, model.StateDisconnected, a.View().State)
	fs.assertNoConn(t)
}

func TestOpen_UnsupportedSymbolKeepsCurrentChannel(t *testing.T) {
	fs := newFakeStream()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	conn := fs.next(t)
	conn.send(t, book("BTCUSDT", 1, model.SourceStream))
	waitView(t, a, func(v model.View) bool { return v.State == model.StateConnected }, "应进入 Connected")

	require.Error(t, a.SetSymbol("DOGEUSDT"))
	v := a.View()
	assert.Equal(t, "BTCUSDT", v.Symbol)
	assert.Equal(t, model.StateConnected, v.State)
	assert.NotNil(t, v.Data)
}

func TestStreaming_StateMachine(t *testing.T) {
	fs := newFakeStream()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "btcusdt", model.ModeStreaming))
	v := a.View()
	assert.Equal(t, model.StateConnecting, v.State)
	assert.True(t, v.Loading)
	assert.False(t, v.IsConnected)
	assert.Equal(t, "BTCUSDT", v.Symbol)

	conn := fs.next(t)
	assert.Equal(t, "BTCUSDT", conn.symbol)

	conn.send(t, book("BTCUSDT", 1, model.SourceStream))
	v = waitView(t, a, func(v model.View) bool { return v.State == model.StateConnected }, "首条推送后应为 Connected")
	assert.True(t, v.IsConnected)
	assert.False(t, v.Loading)
	require.NotNil(t, v.Data)
	assert.Equal(t, int64(1), v.Data.UpdateID)

	conn.fail <- errors.New("connection reset by peer")
	v = waitView(t, a, func(v model.View) bool { return v.State == model.StateErrored }, "出错后应为 Errored")
	assert.False(t, v.IsConnected)
	assert.Contains(t, v.Error, "WebSocket connection error")
	require.NotNil(t, v.Data, "出错后保留最后一份快照")
	assert.Equal(t, int64(1), v.Data.UpdateID)
	fs.assertNoConn(t)

	gen := a.Generation()
	require.NoError(t, a.Reconnect())
	assert.Equal(t, gen+1, a.Generation())
	v = a.View()
	assert.Equal(t, model.StateConnecting, v.State)
	assert.Empty(t, v.Error)
	assert.NotNil(t, v.Data, "重连保留快照")

	conn2 := fs.next(t)
	conn2.send(t, book("BTCUSDT", 2, model.SourceStream))
	waitView(t, a, func(v model.View) bool { return v.State == model.StateConnected && v.Data.UpdateID == 2 }, "重连后恢复")
}

func TestStreaming_PeerCloseIsDisconnected(t *testing.T) {
	fs := newFakeStream()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	conn := fs.next(t)
	conn.send(t, book("BTCUSDT", 1, model.SourceStream))
	conn.fail <- nil

	v := waitView(t, a, func(v model.View) bool { return v.State == model.StateDisconnected }, "对端关闭后应为 Disconnected")
	assert.Empty(t, v.Error)
	assert.NotNil(t, v.Data)
}

func TestSymbolSwitch_NoStaleApplyNoDisconnectFlash(t *testing.T) {
	fs := newFakeStream()
	log := &stateLog{}
	m := telemetry.New()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop(), WithObserver(log.observe), WithMetrics(m))
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	connA := fs.next(t)
	connA.send(t, book("BTCUSDT", 1, model.SourceStream))
	waitView(t, a, func(v model.View) bool { return v.State == model.StateConnected }, "A 应已连接")

	mark := log.len()
	require.NoError(t, a.SetSymbol("ETHUSDT"))

	select {
	case <-connA.ended:
	case <-time.After(waitTimeout):
		t.Fatal("A 通道应被关闭")
	}

	// A 通道迟到的回调
	connA.h.OnSnapshot(book("BTCUSDT", 99, model.SourceStream))

	v := a.View()
	assert.Equal(t, "ETHUSDT", v.Symbol)
	assert.Nil(t, v.Data, "A 的快照不应出现在 B 上")
	assert.Equal(t, model.StateConnecting, v.State)

	connB := fs.next(t)
	assert.Equal(t, "ETHUSDT", connB.symbol)
	connB.send(t, book("ETHUSDT", 5, model.SourceStream))
	v = waitView(t, a, func(v model.View) bool { return v.Data != nil }, "B 应收到快照")
	assert.Equal(t, "ETHUSDT", v.Data.Symbol)

	for _, seen := range log.since(mark) {
		assert.NotEqual(t, model.StateDisconnected, seen.State, "切换交易对不应出现 Disconnected")
		assert.NotEqual(t, model.StateErrored, seen.State, "切换交易对不应出现 Errored")
		if seen.Data != nil {
			assert.Equal(t, "ETHUSDT", seen.Data.Symbol)
		}
	}
}

func TestSetSymbol_SameSymbolIsNoop(t *testing.T) {
	fs := newFakeStream()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	fs.next(t)
	gen := a.Generation()

	require.NoError(t, a.SetSymbol("btc-usdt"))
	assert.Equal(t, gen, a.Generation())
	fs.assertNoConn(t)
}

func TestPolling_ErrorsKeepSnapshot(t *testing.T) {
	var failing atomic.Bool
	rest := &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		if failing.Load() {
			return nil, &model.TransportError{Op: "fetch", Err: errors.New("HTTP 500: failed to fetch order book")}
		}
		return book(symbol, n, model.SourceREST), nil
	}}
	a := New(testConfig(), testRegistry(), newFakeStream(), rest, zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))
	v := a.View()
	assert.Equal(t, model.StateConnected, v.State, "计时器存续期间视为已连接")
	assert.True(t, v.IsConnected)

	v = waitView(t, a, func(v model.View) bool { return v.Data != nil }, "应收到轮询快照")
	assert.False(t, v.Loading)

	failing.Store(true)
	v = waitView(t, a, func(v model.View) bool { return v.Error != "" }, "应暴露轮询错误")
	assert.Contains(t, v.Error, "HTTP 500")
	assert.NotNil(t, v.Data, "轮询失败不清空快照")
	assert.Equal(t, model.StateConnected, v.State)
	assert.True(t, v.IsConnected)

	failing.Store(false)
	waitView(t, a, func(v model.View) bool { return v.Error == "" }, "成功后清除错误")
}

func TestPolling_ParseErrorIsSilent(t *testing.T) {
	rest := &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		if n == 1 {
			return book(symbol, 1, model.SourceREST), nil
		}
		return nil, &model.ParseError{Reason: "bids"}
	}}
	a := New(testConfig(), testRegistry(), newFakeStream(), rest, zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))
	waitView(t, a, func(v model.View) bool { return v.Data != nil }, "应收到轮询快照")
	require.Eventually(t, func() bool { return rest.count() >= 4 }, waitTimeout, 5*time.Millisecond)

	v := a.View()
	assert.Empty(t, v.Error, "解析失败不暴露为错误")
	require.NotNil(t, v.Data)
	assert.Equal(t, int64(1), v.Data.UpdateID, "解析失败保留上一份快照")
}

func TestPolling_LateResponseAfterSwitchIsDropped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 16)
	rest := &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		select {
		case started <- symbol:
		default:
		}
		if symbol == "BTCUSDT" {
			// 模拟请求已发出、响应在切换之后才到达
			<-release
		}
		return book(symbol, n, model.SourceREST), nil
	}}
	a := New(testConfig(), testRegistry(), newFakeStream(), rest, zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))
	require.Equal(t, "BTCUSDT", <-started)

	require.NoError(t, a.SetSymbol("ETHUSDT"))
	v := waitView(t, a, func(v model.View) bool { return v.Data != nil }, "B 应收到快照")
	assert.Equal(t, "ETHUSDT", v.Data.Symbol)

	close(release)
	time.Sleep(50 * time.Millisecond)

	v = a.View()
	assert.Equal(t, "ETHUSDT", v.Symbol)
	assert.Equal(t, "ETHUSDT", v.Data.Symbol, "A 迟到的响应不应生效")
}

func TestClose_InFlightPollIsDropped(t *testing.T) {
	started := make(chan struct{}, 1)
	rest := &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		started <- struct{}{}
		// 取消之后才返回一份"成功"的响应
		<-ctx.Done()
		return book(symbol, n, model.SourceREST), nil
	}}
	a := New(testConfig(), testRegistry(), newFakeStream(), rest, zap.NewNop())

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))
	<-started
	require.NoError(t, a.Close())

	v := a.View()
	assert.Nil(t, v.Data, "关闭后迟到的响应不应生效")
	assert.Equal(t, model.StateDisconnected, v.State)
	assert.False(t, v.IsConnected)
	assert.False(t, v.Loading)
	assert.Equal(t, int64(1), rest.count(), "关闭后计时器不再触发")
}

func TestWarmup_StreamWins(t *testing.T) {
	cfg := testConfig()
	warmup := true
	cfg.Feed.WarmupFetch = &warmup

	release := make(chan struct{})
	rest := &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		<-release
		return book(symbol, 1000, model.SourceREST), nil
	}}
	fs := newFakeStream()
	a := New(cfg, testRegistry(), fs, rest, zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	conn := fs.next(t)
	require.Eventually(t, func() bool { return rest.count() == 1 }, waitTimeout, 5*time.Millisecond, "应发出预热请求")

	conn.send(t, book("BTCUSDT", 1, model.SourceStream))
	waitView(t, a, func(v model.View) bool { return v.Data != nil }, "应收到推送")

	close(release)
	time.Sleep(50 * time.Millisecond)
	v := a.View()
	assert.Equal(t, model.SourceStream, v.Data.Source, "预热结果不覆盖推送数据")
	assert.Equal(t, int64(1), v.Data.UpdateID)
}

func TestWarmup_ProvidesDataWhileConnecting(t *testing.T) {
	cfg := testConfig()
	warmup := true
	cfg.Feed.WarmupFetch = &warmup

	fs := newFakeStream()
	a := New(cfg, testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	fs.next(t)

	v := waitView(t, a, func(v model.View) bool { return v.Data != nil }, "预热应提供快照")
	assert.Equal(t, model.SourceREST, v.Data.Source)
	assert.Equal(t, model.StateConnecting, v.State, "预热数据不代表推送已连接")
	assert.False(t, v.Loading)
}

func TestRefresh(t *testing.T) {
	t.Run("polling 立即拉取", func(t *testing.T) {
		cfg := testConfig()
		cfg.Feed.PollIntervalMs = 3600000
		rest := okREST()
		a := New(cfg, testRegistry(), newFakeStream(), rest, zap.NewNop())
		defer a.Close()

		require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))
		waitView(t, a, func(v model.View) bool { return v.Data != nil }, "首次轮询")
		gen := a.Generation()

		require.NoError(t, a.Refresh(context.Background()))
		v := a.View()
		assert.Equal(t, int64(2), rest.count())
		assert.Equal(t, int64(2), v.Data.UpdateID)
		assert.Equal(t, gen, a.Generation(), "polling 刷新不重建通道")
	})

	t.Run("streaming 重建通道", func(t *testing.T) {
		fs := newFakeStream()
		a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
		defer a.Close()

		require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
		first := fs.next(t)
		gen := a.Generation()

		require.NoError(t, a.Refresh(context.Background()))
		fs.next(t)
		assert.Equal(t, gen+1, a.Generation())
		<-first.ended
	})

	t.Run("未打开时返回错误", func(t *testing.T) {
		a := New(testConfig(), testRegistry(), newFakeStream(), okREST(), zap.NewNop())
		assert.ErrorIs(t, a.Refresh(context.Background()), ErrNotOpen)
		assert.ErrorIs(t, a.Reconnect(), ErrNotOpen)
	})

	t.Run("限速等待期间取消", func(t *testing.T) {
		cfg := testConfig()
		cfg.Feed.RefreshRPS = 0.001
		a := New(cfg, testRegistry(), newFakeStream(), okREST(), zap.NewNop())
		defer a.Close()
		require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))

		require.NoError(t, a.Refresh(context.Background()))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.Error(t, a.Refresh(ctx))
	})
}

func TestDisabled_OpensNothing(t *testing.T) {
	cfg := testConfig()
	enabled := false
	cfg.Feed.Enabled = &enabled

	fs := newFakeStream()
	rest := okREST()
	a := New(cfg, testRegistry(), fs, rest, zap.NewNop())

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	v := a.View()
	assert.Equal(t, model.StateDisconnected, v.State)
	assert.False(t, v.Loading)
	assert.Equal(t, "BTCUSDT", v.Symbol)
	fs.assertNoConn(t)
	assert.Equal(t, int64(0), rest.count())
}

func TestUpdates_LastWriteWins(t *testing.T) {
	fs := newFakeStream()
	a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	conn := fs.next(t)
	for i := int64(1); i <= 10; i++ {
		conn.send(t, book("BTCUSDT", i, model.SourceStream))
	}
	waitView(t, a, func(v model.View) bool { return v.Data != nil && v.Data.UpdateID == 10 }, "应处理完全部推送")

	select {
	case v := <-a.Updates():
		require.NotNil(t, v.Data)
		assert.Equal(t, int64(10), v.Data.UpdateID, "只保留最新状态")
	default:
		t.Fatal("应有一条待读状态")
	}
	select {
	case v := <-a.Updates():
		t.Fatalf("不应有更多状态, got %+v", v)
	default:
	}
}

func TestAutoReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Reconnect = config.ReconnectConfig{Enabled: true, BaseMs: 1, MaxMs: 5, MaxAttempts: 2}

	fs := newFakeStream()
	a := New(cfg, testRegistry(), fs, okREST(), zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	conn := fs.next(t)
	conn.fail <- errors.New("boom")

	conn = fs.next(t)
	conn.fail <- errors.New("boom")
	conn = fs.next(t)
	conn.fail <- errors.New("boom")

	// 次数用尽后保持 Errored
	waitView(t, a, func(v model.View) bool { return v.State == model.StateErrored }, "应保持 Errored")
	fs.assertNoConn(t)
}

func TestSetMode(t *testing.T) {
	fs := newFakeStream()
	rest := okREST()
	a := New(testConfig(), testRegistry(), fs, rest, zap.NewNop())
	defer a.Close()

	assert.ErrorIs(t, a.SetMode(model.ModePolling), ErrNotOpen)

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModeStreaming))
	conn := fs.next(t)

	require.NoError(t, a.SetMode(model.ModePolling))
	<-conn.ended
	v := waitView(t, a, func(v model.View) bool { return v.Data != nil }, "切换为轮询后应收到快照")
	assert.Equal(t, model.ModePolling, v.Mode)
	assert.Equal(t, model.SourceREST, v.Data.Source)
}

func TestOpen_ParentCancelIsDisconnected(t *testing.T) {
	t.Run("streaming", func(t *testing.T) {
		fs := newFakeStream()
		a := New(testConfig(), testRegistry(), fs, okREST(), zap.NewNop())
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, a.Open(ctx, "BTCUSDT", model.ModeStreaming))
		conn := fs.next(t)
		conn.send(t, book("BTCUSDT", 1, model.SourceStream))
		waitView(t, a, func(v model.View) bool { return v.State == model.StateConnected }, "应进入 Connected")
		gen := a.Generation()

		cancel()
		v := waitView(t, a, func(v model.View) bool { return v.State == model.StateDisconnected }, "上下文取消后应为 Disconnected")
		assert.False(t, v.IsConnected)
		assert.False(t, v.Loading)
		assert.Empty(t, v.Error, "上下文取消不是连接错误")
		require.NotNil(t, v.Data, "保留最后一份快照")
		assert.Equal(t, gen+1, a.Generation())

		// 旧通道迟到的回调不再生效
		conn.h.OnSnapshot(book("BTCUSDT", 2, model.SourceStream))
		assert.Equal(t, int64(1), a.View().Data.UpdateID)
		fs.assertNoConn(t)
	})

	t.Run("polling", func(t *testing.T) {
		rest := okREST()
		a := New(testConfig(), testRegistry(), newFakeStream(), rest, zap.NewNop())
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, a.Open(ctx, "BTCUSDT", model.ModePolling))
		waitView(t, a, func(v model.View) bool { return v.Data != nil }, "应收到轮询快照")

		cancel()
		v := waitView(t, a, func(v model.View) bool { return v.State == model.StateDisconnected }, "计时器停止后应为 Disconnected")
		assert.False(t, v.IsConnected)
		assert.Empty(t, v.Error, "上下文取消不是拉取错误")
		assert.NotNil(t, v.Data)

		calls := rest.count()
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, calls, rest.count(), "取消后不再轮询")
	})
}

func TestRefresh_CallerCancelIsNotAVenueError(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.PollIntervalMs = 3600000
	rest := &fakeREST{fn: func(ctx context.Context, symbol string, n int64) (*model.OrderBookSnapshot, error) {
		if n == 1 {
			return book(symbol, 1, model.SourceREST), nil
		}
		<-ctx.Done()
		return nil, &model.TransportError{Op: "fetch", Err: ctx.Err()}
	}}
	a := New(cfg, testRegistry(), newFakeStream(), rest, zap.NewNop())
	defer a.Close()

	require.NoError(t, a.Open(context.Background(), "BTCUSDT", model.ModePolling))
	waitView(t, a, func(v model.View) bool { return v.Data != nil }, "首次轮询")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v := a.View()
	assert.Empty(t, v.Error, "调用方超时不应显示为上游错误")
	assert.False(t, v.Loading)
	assert.Equal(t, model.StateConnected, v.State, "轮询通道不受影响")
	require.NotNil(t, v.Data)
	assert.Equal(t, int64(1), v.Data.UpdateID)
}
