// Package derive 根据订单簿快照计算展示指标。
// 纯函数，无 I/O、无状态；只读借用快照，不做修改。
package derive

import (
	"math"

	"orderbook-feed/internal/core/model"
)

// SignificantSizeThreshold 大单阈值，数量严格大于该值的档位视为大单
const SignificantSizeThreshold = 1.0

// Derive 使用默认阈值计算派生指标
func Derive(s *model.OrderBookSnapshot) model.DerivedMetrics {
	return DeriveWithThreshold(s, SignificantSizeThreshold)
}

// DeriveWithThreshold 计算派生指标
// 参数 s: 规范化后的快照（排序由上游保证）
// 参数 threshold: 大单阈值
// 返回: 派生指标；双边总量均为 0 时 OrderImbalance 为 NaN
func DeriveWithThreshold(s *model.OrderBookSnapshot, threshold float64) model.DerivedMetrics {
	if s == nil {
		return model.DerivedMetrics{OrderImbalance: math.NaN()}
	}

	bestBid := s.BestBid()
	bestAsk := s.BestAsk()
	bidVol := totalSize(s.Bids)
	askVol := totalSize(s.Asks)

	imbalance := math.NaN()
	if total := bidVol + askVol; total != 0 {
		imbalance = (bidVol - askVol) / total
	}

	return model.DerivedMetrics{
		Spread:          bestAsk - bestBid,
		OrderImbalance:  imbalance,
		BestBid:         bestBid,
		BestAsk:         bestAsk,
		TotalBidVolume:  bidVol,
		TotalAskVolume:  askVol,
		SignificantBids: significant(s.Bids, threshold),
		SignificantAsks: significant(s.Asks, threshold),
	}
}

func totalSize(entries []model.OrderBookEntry) float64 {
	var sum float64
	for _, e := range entries {
		sum += e.Size
	}
	return sum
}

// significant 返回新切片，不与快照共享底层数组
func significant(entries []model.OrderBookEntry, threshold float64) []model.OrderBookEntry {
	out := make([]model.OrderBookEntry, 0, len(entries))
	for _, e := range entries {
		if e.Size > threshold {
			out = append(out, e)
		}
	}
	return out
}
