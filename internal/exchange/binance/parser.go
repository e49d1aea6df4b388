// Package binance 实现 Binance 深度消息解析。
// 同时接受三种形态：完整字段名（bids/asks + lastUpdateId）、
// 简写（b/a + u）以及代理形态（symbol_id + 对象档位）。
// 任意一档解析失败则整条消息被拒绝，不发布半成品快照。
package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/util/fastparse"
	"orderbook-feed/internal/util/timeutil"
)

// wireShape 消息形态
type wireShape int

const (
	shapeUnknown wireShape = iota
	// shapeFull bids/asks 字符串对
	shapeFull
	// shapeShort b/a 字符串对
	shapeShort
	// shapeProxy bids/asks 对象档位
	shapeProxy
)

// Decode 解析一条深度消息为规范化快照
// 参数 symbol: 当前订阅的交易对；为空时使用消息自带的 s / symbol_id
// 参数 data: 原始消息字节
// 返回: 快照（不含到达时间与来源，由调用方填写），失败时返回 *model.ParseError
func Decode(symbol string, data []byte) (*model.OrderBookSnapshot, error) {
	var probe wireProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &model.ParseError{Reason: "JSON 格式错误", Err: err}
	}

	switch detectShape(&probe) {
	case shapeFull:
		return decodeFull(symbol, data)
	case shapeShort:
		return decodeShort(symbol, data)
	case shapeProxy:
		return decodeProxy(symbol, data)
	default:
		return nil, &model.ParseError{Reason: "缺少 bids/asks 或 b/a 字段"}
	}
}

// detectShape 根据字段存在性与档位元素类型判定形态
func detectShape(p *wireProbe) wireShape {
	if isPresent(p.Bids) || isPresent(p.Asks) {
		kind := firstElemKind(p.Bids)
		if kind == 0 {
			kind = firstElemKind(p.Asks)
		}
		if kind == '{' || (kind == 0 && p.SymbolID != "") {
			return shapeProxy
		}
		return shapeFull
	}
	if isPresent(p.B) || isPresent(p.A) {
		return shapeShort
	}
	return shapeUnknown
}

// isPresent 判断字段存在且不为 null
func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// firstElemKind 返回数组第一个元素的首字符，空数组或非数组返回 0
func firstElemKind(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return 0
	}
	rest := bytes.TrimSpace(raw[1:])
	if len(rest) == 0 || rest[0] == ']' {
		return 0
	}
	return rest[0]
}

func decodeFull(symbol string, data []byte) (*model.OrderBookSnapshot, error) {
	var msg DepthSnapshot
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &model.ParseError{Reason: "bids/asks 格式错误", Err: err}
	}
	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, &model.ParseError{Reason: "bids", Err: err}
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, &model.ParseError{Reason: "asks", Err: err}
	}
	return &model.OrderBookSnapshot{
		Symbol:   strings.ToUpper(symbol),
		UpdateID: msg.LastUpdateID,
		Bids:     bids,
		Asks:     asks,
	}, nil
}

func decodeShort(symbol string, data []byte) (*model.OrderBookSnapshot, error) {
	var msg DepthUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &model.ParseError{Reason: "b/a 格式错误", Err: err}
	}
	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, &model.ParseError{Reason: "b", Err: err}
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, &model.ParseError{Reason: "a", Err: err}
	}
	if symbol == "" {
		symbol = msg.Symbol
	}
	return &model.OrderBookSnapshot{
		Symbol:       strings.ToUpper(symbol),
		UpdateID:     msg.FinalUpdateID,
		Bids:         bids,
		Asks:         asks,
		ExchTsUnixMs: msg.EventTimeMs,
	}, nil
}

func decodeProxy(symbol string, data []byte) (*model.OrderBookSnapshot, error) {
	var msg ProxyBook
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &model.ParseError{Reason: "代理档位格式错误", Err: err}
	}
	bids, err := convertProxyLevels(msg.Bids)
	if err != nil {
		return nil, &model.ParseError{Reason: "bids", Err: err}
	}
	asks, err := convertProxyLevels(msg.Asks)
	if err != nil {
		return nil, &model.ParseError{Reason: "asks", Err: err}
	}
	if symbol == "" {
		symbol = msg.SymbolID
	}
	// 代理形态没有序列号，以交易所时间代替
	exchMs := timeutil.ParseExchangeTime(msg.TimeExchange)
	return &model.OrderBookSnapshot{
		Symbol:       strings.ToUpper(symbol),
		UpdateID:     exchMs,
		Bids:         bids,
		Asks:         asks,
		VenueSymbol:  msg.SymbolID,
		ExchTsUnixMs: exchMs,
	}, nil
}

// parseLevels 解析字符串对档位，任意一档失败即返回错误
func parseLevels(raw [][]string) ([]model.OrderBookEntry, error) {
	levels := make([]model.OrderBookEntry, 0, len(raw))
	for i, pair := range raw {
		price, size, err := fastparse.ParseLevel(pair)
		if err != nil {
			return nil, fmt.Errorf("第 %d 档: %w", i, err)
		}
		levels = append(levels, model.OrderBookEntry{Price: price, Size: size})
	}
	return levels, nil
}

// convertProxyLevels 校验并转换代理形态档位
func convertProxyLevels(raw []ProxyLevel) ([]model.OrderBookEntry, error) {
	levels := make([]model.OrderBookEntry, 0, len(raw))
	for i, l := range raw {
		if err := fastparse.CheckNonNegative(l.Price); err != nil {
			return nil, fmt.Errorf("第 %d 档价格: %w", i, err)
		}
		if err := fastparse.CheckNonNegative(l.Size); err != nil {
			return nil, fmt.Errorf("第 %d 档数量: %w", i, err)
		}
		levels = append(levels, model.OrderBookEntry{Price: l.Price, Size: l.Size})
	}
	return levels, nil
}

// errSampler 解析错误采样日志
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
type errSampler struct {
	// logger 日志记录器
	logger *zap.Logger
	// count 解析错误计数
	count uint64
	// lastLogNs 上次日志时间（纳秒）
	lastLogNs int64
}

// maybeLog 采样记录解析错误原始消息，避免刷盘
func (s *errSampler) maybeLog(err error, data []byte) {
	count := atomic.AddUint64(&s.count, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&s.lastLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&s.lastLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	s.logger.Warn("解析深度消息失败（采样）",
		zap.Error(err),
		zap.Uint64("total", count),
		zap.ByteString("data", sample))
}
