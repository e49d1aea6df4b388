// Package coinapi 实现订单簿代理使用的 CoinAPI 上游客户端。
// 请求 {coinapi_url}/orderbooks/current?symbol_id=&limit_levels=，响应为数组时取第一个元素，
// 订单簿本身不做解码，原样转发给调用方。
package coinapi

import (
	"bytes"
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
	"golang.org/x/time/rate"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/util/timeutil"
)

// upstreamTimeout 单次上游请求超时
const upstreamTimeout = 10 * time.Second

// maxBodyBytes 响应体读取上限
const maxBodyBytes = 8 << 20

var (
	// ErrMissingKey 未配置 API 密钥
	ErrMissingKey = errors.New("API key not configured")
	// ErrEmptyResponse 上游返回空数组
	ErrEmptyResponse = errors.New("CoinAPI 返回空订单簿")
)

// StatusError 上游返回非 2xx 状态码
type StatusError struct {
	// StatusCode 上游 HTTP 状态码
	StatusCode int
}

func (e *StatusError) Error() string {
	return "CoinAPI error: " + strconv.Itoa(e.StatusCode)
}

// Client CoinAPI 客户端，可并发使用
type Client struct {
	baseURL string
	apiKey  string
	levels  int
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient 创建 CoinAPI 客户端
// 参数 cfg: 应用配置（使用 server 与 breaker 两部分）
// 参数 logger: 日志记录器
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.Server.UpstreamRPS > 0 {
		limit = rate.Limit(cfg.Server.UpstreamRPS)
	}
	burst := int(cfg.Server.UpstreamRPS)
	if burst < 1 {
		burst = 1
	}

	l := logger.Named("coinapi")
	c := &Client{
		baseURL: strings.TrimRight(cfg.Server.CoinAPIURL, "/"),
		apiKey:  cfg.Server.CoinAPIKey,
		levels:  cfg.Server.LimitLevels,
		client:  &http.Client{Timeout: upstreamTimeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  l,
	}

	threshold := uint32(cfg.Breaker.ConsecutiveFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coinapi",
		MaxRequests: 1,
		Timeout:     timeutil.MsToDuration(cfg.Breaker.OpenTimeoutMs),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		// 4xx 是请求本身的问题，不计入失败
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("熔断器状态变化",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// HasKey 是否配置了 API 密钥
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// CurrentURL 生成当前订单簿请求地址
func (c *Client) CurrentURL(symbolID string) string {
	q := url.Values{}
	q.Set("symbol_id", symbolID)
	q.Set("limit_levels", strconv.Itoa(c.levels))
	return c.baseURL + "/orderbooks/current?" + q.Encode()
}

// CurrentOrderBook 获取当前订单簿
// 参数 ctx: 上下文
// 参数 symbolID: CoinAPI 交易对标识，如 KRAKEN_SPOT_BTC_USD
// 返回: 单个订单簿对象的原始 JSON；上游非 2xx 返回 *StatusError
func (c *Client) CurrentOrderBook(ctx context.Context, symbolID string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrMissingKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待上游限速: %w", err)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbolID)
	})
	if err != nil {
		return nil, err
	}
	return res.(json.RawMessage), nil
}

// BreakerState 获取熔断器当前状态
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) fetch(ctx context.Context, symbolID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.CurrentURL(symbolID), nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-CoinAPI-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 CoinAPI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 丢弃响应体以复用连接
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.logger.Warn("CoinAPI 返回错误状态",
			zap.String("symbol_id", symbolID),
			zap.Int("status", resp.StatusCode))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	return firstBook(body)
}

// firstBook 响应为数组时取第一个元素，否则原样返回
func firstBook(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("CoinAPI 响应不是合法 JSON")
	}
	if trimmed[0] != '[' {
		return json.RawMessage(trimmed), nil
	}

	var books []json.RawMessage
	if err := json.Unmarshal(trimmed, &books); err != nil {
		return nil, fmt.Errorf("解析 CoinAPI 响应失败: %w", err)
	}
	if len(books) == 0 {
		return nil, ErrEmptyResponse
	}
	return books[0], nil
}
