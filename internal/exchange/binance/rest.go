package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/util/timeutil"
)

// defaultFetchError 错误响应体中没有可用信息时使用的描述
const defaultFetchError = "failed to fetch order book"

// maxBodyBytes 响应体读取上限
const maxBodyBytes = 4 << 20

// RESTClient REST 深度拉取客户端
// 配置了代理地址时请求 {proxy}/api/orderbook?symbol=，否则直连 {rest_url}/depth。
// 请求经过熔断器，连续失败达到阈值后在熔断期内直接返回错误。
type RESTClient struct {
	// restURL 交易所 REST 基础地址
	restURL string
	// proxyBase 代理基础地址，可为空
	proxyBase string
	// limit 深度档位数
	limit int
	// client HTTP 客户端
	client *http.Client
	// breaker 熔断器
	breaker *gobreaker.CircuitBreaker
	// logger 日志记录器
	logger *zap.Logger
	// sampler 解析错误采样
	sampler *errSampler
}

// NewRESTClient 创建 REST 深度拉取客户端
// 参数 cfg: 应用配置（使用 venue、feed.proxy_base_url、breaker 三部分）
// 参数 logger: 日志记录器
func NewRESTClient(cfg *config.Config, logger *zap.Logger) *RESTClient {
	l := logger.Named("binance-rest")
	c := &RESTClient{
		restURL:   strings.TrimRight(cfg.Venue.RESTURL, "/"),
		proxyBase: strings.TrimRight(cfg.Feed.ProxyBaseURL, "/"),
		limit:     cfg.Venue.RESTLimit,
		client:    &http.Client{Timeout: timeutil.MsToDuration(cfg.Venue.TimeoutMs)},
		logger:    l,
		sampler:   &errSampler{logger: l},
	}
	c.breaker = newBreaker("binance-rest", &cfg.Breaker, l)
	return c
}

// newBreaker 创建熔断器
// consecutive_failures 为 0 时不熔断
func newBreaker(name string, cfg *config.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.ConsecutiveFailures)
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeutil.MsToDuration(cfg.OpenTimeoutMs),
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return threshold > 0 && counts.ConsecutiveFailures >= threshold
	}
	// 取消的请求与解析失败不计入失败次数
	st.IsSuccessful = func(err error) bool {
		var parseErr *model.ParseError
		return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &parseErr)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("熔断器状态变化",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return gobreaker.NewCircuitBreaker(st)
}

// DepthURL 生成深度拉取地址
func (c *RESTClient) DepthURL(symbol string) string {
	sym := url.QueryEscape(strings.ToUpper(symbol))
	if c.proxyBase != "" {
		return c.proxyBase + "/api/orderbook?symbol=" + sym
	}
	return c.restURL + "/depth?symbol=" + sym + "&limit=" + strconv.Itoa(c.limit)
}

// Fetch 拉取一次深度快照
// 参数 ctx: 上下文，取消后请求立即返回
// 参数 symbol: 交易对
// 返回: 连接层失败返回 *model.TransportError，消息格式错误返回 *model.ParseError
func (c *RESTClient) Fetch(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbol)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &model.TransportError{Op: "fetch", Err: err}
		}
		return nil, err
	}
	return res.(*model.OrderBookSnapshot), nil
}

// BreakerState 获取熔断器当前状态
func (c *RESTClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *RESTClient) fetch(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DepthURL(symbol), nil)
	if err != nil {
		return nil, &model.TransportError{Op: "fetch", Err: fmt.Errorf("创建请求失败: %w", err)}
	}
	req.Header.Set("User-Agent", "orderbook-feed/1.0")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &model.TransportError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &model.TransportError{Op: "fetch", Err: fmt.Errorf("读取响应体失败: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.TransportError{
			Op:  "fetch",
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, extractErrorMessage(body)),
		}
	}

	snap, err := Decode(symbol, body)
	if err != nil {
		c.sampler.maybeLog(err, body)
		return nil, err
	}
	snap.ReceivedAtUnixNs = timeutil.NowNano()
	snap.Source = model.SourceREST

	c.logger.Debug("REST 深度拉取完成",
		zap.String("symbol", snap.Symbol),
		zap.Int64("update_id", snap.UpdateID),
		zap.Duration("took", time.Since(start)))
	return snap, nil
}

// extractErrorMessage 从错误响应体中提取描述
// 优先 error 字段，其次 msg 字段，都没有时使用默认描述
func extractErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return defaultFetchError
	}
	if eb.Error != "" {
		return eb.Error
	}
	if eb.Msg != "" {
		return eb.Msg
	}
	return defaultFetchError
}
