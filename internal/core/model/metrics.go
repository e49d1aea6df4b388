package model

import (
	"encoding/json"
	"math"
)

// DerivedMetrics 由快照派生的展示指标
// 纯函数结果，随快照变化重新计算，不单独缓存。
type DerivedMetrics struct {
	// Spread 卖一 - 买一（空簿或交叉盘时可能为负，不做截断）
	Spread float64
	// OrderImbalance (买量-卖量)/(买量+卖量)，范围 [-1,1]；双边均为 0 时为 NaN
	OrderImbalance float64
	// BestBid 买一价
	BestBid float64
	// BestAsk 卖一价
	BestAsk float64
	// TotalBidVolume 买盘总量
	TotalBidVolume float64
	// TotalAskVolume 卖盘总量
	TotalAskVolume float64
	// SignificantBids 数量超过阈值的买盘档位（保持原顺序）
	SignificantBids []OrderBookEntry
	// SignificantAsks 数量超过阈值的卖盘档位（保持原顺序）
	SignificantAsks []OrderBookEntry
}

// HasImbalance 失衡度是否有定义
// 调用方必须先判断，不能把 NaN 当作 0。
func (m DerivedMetrics) HasImbalance() bool {
	return !math.IsNaN(m.OrderImbalance)
}

type derivedMetricsJSON struct {
	Spread          float64          `json:"spread"`
	OrderImbalance  *float64         `json:"order_imbalance"`
	BestBid         float64          `json:"best_bid"`
	BestAsk         float64          `json:"best_ask"`
	TotalBidVolume  float64          `json:"total_bid_volume"`
	TotalAskVolume  float64          `json:"total_ask_volume"`
	SignificantBids []OrderBookEntry `json:"significant_bids"`
	SignificantAsks []OrderBookEntry `json:"significant_asks"`
}

// MarshalJSON 未定义的失衡度编码为 null（encoding/json 不支持 NaN）
func (m DerivedMetrics) MarshalJSON() ([]byte, error) {
	out := derivedMetricsJSON{
		Spread:          m.Spread,
		BestBid:         m.BestBid,
		BestAsk:         m.BestAsk,
		TotalBidVolume:  m.TotalBidVolume,
		TotalAskVolume:  m.TotalAskVolume,
		SignificantBids: nonNil(m.SignificantBids),
		SignificantAsks: nonNil(m.SignificantAsks),
	}
	if m.HasImbalance() {
		v := m.OrderImbalance
		out.OrderImbalance = &v
	}
	return json.Marshal(out)
}

func nonNil(entries []OrderBookEntry) []OrderBookEntry {
	if entries == nil {
		return []OrderBookEntry{}
	}
	return entries
}
