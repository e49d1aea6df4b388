package derive

import (
	"strconv"
	"strings"

	"orderbook-feed/internal/core/model"
)

// DefaultDisplayLevels 深度图默认展示档位数
const DefaultDisplayLevels = 15

// DepthLevels 深度图展示数据
type DepthLevels struct {
	// Bids 前 N 档买盘
	Bids []model.OrderBookEntry `json:"bids"`
	// Asks 前 N 档卖盘
	Asks []model.OrderBookEntry `json:"asks"`
	// MaxSize 展示档位中的最大数量，用于缩放柱宽；无档位时为 1
	MaxSize float64 `json:"max_size"`
}

// TopLevels 截取前 n 档并计算最大数量
func TopLevels(s *model.OrderBookSnapshot, n int) DepthLevels {
	if s == nil {
		return DepthLevels{MaxSize: 1}
	}
	if n <= 0 {
		n = DefaultDisplayLevels
	}
	bids := head(s.Bids, n)
	asks := head(s.Asks, n)

	maxSize := 0.0
	seen := false
	for _, e := range bids {
		if !seen || e.Size > maxSize {
			maxSize = e.Size
			seen = true
		}
	}
	for _, e := range asks {
		if !seen || e.Size > maxSize {
			maxSize = e.Size
			seen = true
		}
	}
	if !seen {
		maxSize = 1
	}
	return DepthLevels{Bids: bids, Asks: asks, MaxSize: maxSize}
}

func head(entries []model.OrderBookEntry, n int) []model.OrderBookEntry {
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]model.OrderBookEntry, len(entries))
	copy(out, entries)
	return out
}

// FormatPrice 价格格式化
// >= 1000 保留 2 位小数并加千分位，否则保留 4 位小数
func FormatPrice(price float64) string {
	if price >= 1000 {
		return withThousands(strconv.FormatFloat(price, 'f', 2, 64))
	}
	return withThousands(strconv.FormatFloat(price, 'f', 4, 64))
}

// FormatSize 数量格式化（4 位小数）
func FormatSize(size float64) string {
	return withThousands(strconv.FormatFloat(size, 'f', 4, 64))
}

// FormatImbalance 失衡度格式化为百分比，未定义时返回 "n/a"
func FormatImbalance(m model.DerivedMetrics) string {
	if !m.HasImbalance() {
		return "n/a"
	}
	return strconv.FormatFloat(m.OrderImbalance*100, 'f', 2, 64) + "%"
}

func withThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}
