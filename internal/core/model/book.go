// Package model 定义订单簿组件使用的核心数据结构。
// 包含订单簿档位、快照、派生指标、连接状态等核心类型。
package model

import (
	"time"
)

// Exchange 交易所标识常量
const (
	// ExchangeBinance Binance 现货
	ExchangeBinance = "binance"
	// ExchangeCoinAPI CoinAPI（代理上游）
	ExchangeCoinAPI = "coinapi"
)

// Source 快照来源
type Source string

const (
	// SourceStream 来自深度推送流（WebSocket）
	SourceStream Source = "stream"
	// SourceREST 来自 REST 拉取（轮询、预热或手动刷新）
	SourceREST Source = "rest"
)

// OrderBookEntry 订单簿档位
// 价格与数量在解析阶段保证为非负有限数。
type OrderBookEntry struct {
	// Price 价格
	Price float64 `json:"price"`
	// Size 数量
	Size float64 `json:"size"`
}

// OrderBookSnapshot 完整的 Top-N 订单簿快照
// 每条消息/每次轮询都整体替换，不做增量合并。
// Bids 按价格降序（买一在前），Asks 按价格升序（卖一在前）；该顺序由上游保证，此处不做校验。
type OrderBookSnapshot struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// UpdateID 上游序列号（lastUpdateId / u）
	// 同一来源内单调；推送与轮询之间序列空间独立，切换模式后不保证单调。
	UpdateID int64 `json:"update_id"`
	// Bids 买盘档位
	Bids []OrderBookEntry `json:"bids"`
	// Asks 卖盘档位
	Asks []OrderBookEntry `json:"asks"`

	// VenueSymbol 上游原始标识（代理形态的 symbol_id），可为空
	VenueSymbol string `json:"venue_symbol,omitempty"`
	// ExchTsUnixMs 交易所时间戳（毫秒），上游未提供时为 0
	ExchTsUnixMs int64 `json:"exch_ts_unix_ms,omitempty"`
	// ReceivedAtUnixNs 本机收到的时间戳（纳秒）
	ReceivedAtUnixNs int64 `json:"received_at_unix_ns"`
	// Source 快照来源
	Source Source `json:"source"`
}

// BestBid 买一价，无买盘时为 0
func (s *OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk 卖一价，无卖盘时为 0
func (s *OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// IsEmpty 买卖双方均无档位
func (s *OrderBookSnapshot) IsEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// ReceivedAt 获取到达时间的 time.Time 表示
func (s *OrderBookSnapshot) ReceivedAt() time.Time {
	return time.Unix(0, s.ReceivedAtUnixNs)
}

// Clone 创建快照的深拷贝
func (s *OrderBookSnapshot) Clone() *OrderBookSnapshot {
	clone := *s
	if s.Bids != nil {
		clone.Bids = make([]OrderBookEntry, len(s.Bids))
		copy(clone.Bids, s.Bids)
	}
	if s.Asks != nil {
		clone.Asks = make([]OrderBookEntry, len(s.Asks))
		copy(clone.Asks, s.Asks)
	}
	return &clone
}
