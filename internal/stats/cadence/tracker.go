// Package cadence 统计订单簿快照的到达节奏。
// 按交易对维护相邻快照到达间隔与交易所时间滞后的滚动窗口，用于判断行情是否新鲜。
package cadence

import (
	"sync"

	"orderbook-feed/internal/util/timeutil"
)

// Stats 到达节奏统计快照（滚动窗口）
// 单位：毫秒。
type Stats struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Count 间隔样本总数（累计）
	Count int64 `json:"count"`

	// IntervalP50Ms 相邻快照间隔 P50
	IntervalP50Ms float64 `json:"interval_p50_ms"`
	// IntervalP90Ms 相邻快照间隔 P90
	IntervalP90Ms float64 `json:"interval_p90_ms"`
	// IntervalP99Ms 相邻快照间隔 P99
	IntervalP99Ms float64 `json:"interval_p99_ms"`

	// LagP50Ms 到达时间相对交易所时间的滞后 P50（上游未提供交易所时间时为 0）
	LagP50Ms float64 `json:"lag_p50_ms"`
	// LagP99Ms 到达时间相对交易所时间的滞后 P99
	LagP99Ms float64 `json:"lag_p99_ms"`

	// LastAgeMs 最后一条快照距今时间，尚无样本时为 -1
	LastAgeMs float64 `json:"last_age_ms"`
}

type symbolTracker struct {
	interval *rollingWindow
	lag      *rollingWindow
	// lastNs 上一条快照到达时间（纳秒）
	lastNs int64
}

// Tracker 到达节奏追踪器，可并发使用
type Tracker struct {
	// windowSize 每个交易对的窗口大小
	windowSize int
	// now 时钟，测试中可替换
	now func() int64

	mu      sync.Mutex
	symbols map[string]*symbolTracker
}

// NewTracker 创建到达节奏追踪器
// 参数 windowSize: 滚动窗口大小（建议 1000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		now:        timeutil.NowNano,
		symbols:    make(map[string]*symbolTracker),
	}
}

// Add 记录一条快照的到达
// 参数 symbol: 交易对
// 参数 arrivedNs: 本机到达时间（纳秒）
// 参数 exchTsMs: 交易所时间（毫秒），未知时传 0
// 返回: 与上一条快照的间隔（毫秒），第一条返回 0
func (t *Tracker) Add(symbol string, arrivedNs, exchTsMs int64) float64 {
	if symbol == "" || arrivedNs <= 0 {
		return 0
	}

	t.mu.Lock()
	st, ok := t.symbols[symbol]
	if !ok {
		st = &symbolTracker{
			interval: newRollingWindow(t.windowSize),
			lag:      newRollingWindow(t.windowSize),
		}
		t.symbols[symbol] = st
	}
	prev := st.lastNs
	if arrivedNs > prev {
		st.lastNs = arrivedNs
	}
	t.mu.Unlock()

	var intervalMs float64
	if prev > 0 && arrivedNs >= prev {
		st.interval.add(arrivedNs - prev)
		intervalMs = timeutil.NanoToMs(arrivedNs - prev)
	}
	if exchTsMs > 0 {
		st.lag.add(arrivedNs - exchTsMs*1_000_000)
	}
	return intervalMs
}

// Stats 获取指定交易对的统计快照
func (t *Tracker) Stats(symbol string) Stats {
	t.mu.Lock()
	st, ok := t.symbols[symbol]
	var last int64
	if ok {
		last = st.lastNs
	}
	t.mu.Unlock()

	if !ok {
		return Stats{Symbol: symbol, LastAgeMs: -1}
	}

	count, iq := st.interval.snapshotQuantiles(0.50, 0.90, 0.99)
	_, lq := st.lag.snapshotQuantiles(0.50, 0.99)

	return Stats{
		Symbol:        symbol,
		Count:         count,
		IntervalP50Ms: timeutil.NanoToMs(iq[0]),
		IntervalP90Ms: timeutil.NanoToMs(iq[1]),
		IntervalP99Ms: timeutil.NanoToMs(iq[2]),
		LagP50Ms:      timeutil.NanoToMs(lq[0]),
		LagP99Ms:      timeutil.NanoToMs(lq[1]),
		LastAgeMs:     timeutil.NanoToMs(t.now() - last),
	}
}

// Reset 清除指定交易对的统计（切换交易对后旧数据不再有意义时调用）
func (t *Tracker) Reset(symbol string) {
	t.mu.Lock()
	delete(t.symbols, symbol)
	t.mu.Unlock()
}
