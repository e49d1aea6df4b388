package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"orderbook-feed/internal/util/timeutil"
)

// maxInfoBytes exchangeInfo 响应体读取上限（全量约 10MB）
const maxInfoBytes = 16 << 20

// Fetcher 元数据获取器接口
type Fetcher interface {
	// FetchBinanceSpot 获取 Binance 现货可交易的交易对
	// symbols 非空时只查询这些交易对
	FetchBinanceSpot(ctx context.Context, infoURL string, symbols []string) ([]BinanceSymbol, error)
}

// apiError Binance 错误响应，如 {"code":-1121,"msg":"Invalid symbol."}
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// HTTPFetcher 通过 exchangeInfo 接口获取元数据
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeutil.MsToDuration(timeoutMs)}}
}

// InfoURL 拼接 exchangeInfo 查询地址
// 指定交易对时使用 symbols=["A","B"] 参数，避免拉取全量列表
func InfoURL(infoURL string, symbols []string) (string, error) {
	if len(symbols) == 0 {
		return infoURL, nil
	}
	u, err := url.Parse(infoURL)
	if err != nil {
		return "", fmt.Errorf("解析 exchange_info_url 失败: %w", err)
	}
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if id := NormalizeSymbol(s); id != "" {
			ids = append(ids, id)
		}
	}
	list, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("symbols", string(list))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchBinanceSpot 获取 Binance 现货可交易的交易对
// 非 TRADING 状态（BREAK、HALT 等）的交易对不返回
func (f *HTTPFetcher) FetchBinanceSpot(ctx context.Context, infoURL string, symbols []string) ([]BinanceSymbol, error) {
	target, err := InfoURL(infoURL, symbols)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "orderbook-feed/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Binance 元数据失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Msg != "" {
			return nil, fmt.Errorf("Binance 元数据 HTTP %d: %s (code=%d)", resp.StatusCode, ae.Msg, ae.Code)
		}
		return nil, fmt.Errorf("Binance 元数据 HTTP %d", resp.StatusCode)
	}

	var info ExchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("解析 Binance 元数据失败: %w", err)
	}

	trading := info.Symbols[:0]
	for _, s := range info.Symbols {
		if s.IsTrading() {
			s.Symbol = strings.ToUpper(s.Symbol)
			trading = append(trading, s)
		}
	}
	return trading, nil
}
