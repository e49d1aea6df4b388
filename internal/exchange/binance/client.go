// Package binance 实现 Binance 深度推送客户端与 REST 深度拉取。
// 推送地址: wss://stream.binance.com:9443/ws/<symbol>@depth<N>@<speed>ms
// 每个通道只订阅一个交易对，切换交易对时由调用方取消旧通道再打开新通道。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/util/timeutil"
)

// Handler 推送通道回调
// 回调在读取协程中同步执行，返回前不会读取下一条消息。
type Handler struct {
	// OnOpen 握手成功，可为空
	OnOpen func()
	// OnSnapshot 收到一条解析成功的快照
	OnSnapshot func(*model.OrderBookSnapshot)
	// OnParseError 一条消息解析失败（已丢弃），可为空
	OnParseError func(error)
}

// Stream Binance 深度推送客户端
type Stream struct {
	// baseURL 推送基础地址
	baseURL string
	// depth 深度档位
	depth int
	// speedMs 推送频率（毫秒）
	speedMs int
	// dialer WebSocket 拨号器
	dialer websocket.Dialer
	// logger 日志记录器
	logger *zap.Logger
	// sampler 解析错误采样
	sampler *errSampler
}

// NewStream 创建深度推送客户端
// 参数 cfg: 交易所接口配置
// 参数 logger: 日志记录器
func NewStream(cfg *config.VenueConfig, logger *zap.Logger) *Stream {
	l := logger.Named("binance")
	return &Stream{
		baseURL: cfg.WSURL,
		depth:   cfg.DepthLevels,
		speedMs: cfg.UpdateSpeedMs,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  l,
		sampler: &errSampler{logger: l},
	}
}

// StreamURL 生成深度推送地址
// 例如: StreamURL("wss://stream.binance.com:9443/ws", "BTCUSDT", 20, 100)
// -> wss://stream.binance.com:9443/ws/btcusdt@depth20@100ms
func StreamURL(base, symbol string, depth, speedMs int) string {
	return fmt.Sprintf("%s/%s@depth%d@%dms", strings.TrimRight(base, "/"), strings.ToLower(symbol), depth, speedMs)
}

// Stream 打开一个深度推送通道并阻塞读取，直到 ctx 取消或通道出错
// 参数 ctx: 通道生命周期，取消后立即关闭底层连接
// 参数 symbol: 交易对
// 参数 h: 回调
// 返回: ctx 取消或对端正常关闭时返回 nil，其余情况返回错误
//
// 未设置读超时：对端无响应只能依赖底层连接自身报错。
func (s *Stream) Stream(ctx context.Context, symbol string, h Handler) error {
	url := StreamURL(s.baseURL, symbol, s.depth, s.speedMs)

	header := http.Header{}
	header.Set("User-Agent", "orderbook-feed/1.0")

	conn, _, err := s.dialer.DialContext(ctx, url, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("连接深度推送失败: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("深度推送连接成功", zap.String("url", url))
	if h.OnOpen != nil {
		h.OnOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("深度推送已被对端关闭", zap.String("symbol", symbol))
				return nil
			}
			return fmt.Errorf("读取深度消息失败: %w", err)
		}

		snap, err := Decode(symbol, data)
		if err != nil {
			s.sampler.maybeLog(err, data)
			if h.OnParseError != nil {
				h.OnParseError(err)
			}
			continue
		}
		snap.ReceivedAtUnixNs = timeutil.NowNano()
		snap.Source = model.SourceStream
		h.OnSnapshot(snap)
	}
}
