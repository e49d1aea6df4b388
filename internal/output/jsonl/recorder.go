package jsonl

import (
	"fmt"
	"path/filepath"
	"time"

	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/util/timeutil"
)

// Record 一条订单簿记录
type Record struct {
	// TsNs 记录时间（纳秒）
	TsNs int64 `json:"ts_ns"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Mode 传输模式
	Mode model.Mode `json:"mode"`
	// State 连接状态
	State model.ConnectionState `json:"state"`
	// Generation 通道代号
	Generation uint64 `json:"generation"`
	// Error 传输错误
	Error string `json:"error,omitempty"`
	// UpdateID 快照序列号
	UpdateID int64 `json:"update_id"`
	// Source 快照来源
	Source model.Source `json:"source,omitempty"`
	// Metrics 派生指标
	Metrics *model.DerivedMetrics `json:"metrics,omitempty"`
	// Snapshot 完整快照，仅在记录档位时输出
	Snapshot *model.OrderBookSnapshot `json:"snapshot,omitempty"`
}

// Recorder 订单簿快照记录器
// 同一快照只记录一次（按 Generation + UpdateID + 到达时间去重）。
// Record 需在同一个 goroutine 中调用。
type Recorder struct {
	// w 底层写入器
	w *Writer
	// withLevels 是否记录完整档位
	withLevels bool

	lastGen      uint64
	lastUpdateID int64
	lastRecvNs   int64
}

// NewRecorder 创建快照记录器
// 参数 dir: 输出目录，文件名为 orderbook_<YYYYMMDD>.jsonl
// 参数 bufferSize: 写入缓冲区大小
// 参数 withLevels: 是否记录完整档位
func NewRecorder(dir string, bufferSize int, withLevels bool) (*Recorder, error) {
	name := fmt.Sprintf("orderbook_%s.jsonl", time.Now().UTC().Format("20060102"))
	w, err := NewWriter(filepath.Join(dir, name), bufferSize)
	if err != nil {
		return nil, err
	}
	return &Recorder{w: w, withLevels: withLevels}, nil
}

// Record 记录一次状态更新
// 没有快照的状态变化（连接中、出错）也会记录，便于回放连接状态。
// 返回: 是否实际写入
func (r *Recorder) Record(view model.View, metrics *model.DerivedMetrics) (bool, error) {
	rec := Record{
		TsNs:       timeutil.NowNano(),
		Symbol:     view.Symbol,
		Mode:       view.Mode,
		State:      view.State,
		Generation: view.Generation,
		Error:      view.Error,
	}

	if snap := view.Data; snap != nil {
		if view.Generation == r.lastGen && snap.UpdateID == r.lastUpdateID && snap.ReceivedAtUnixNs == r.lastRecvNs && view.Error == "" {
			return false, nil
		}
		r.lastGen, r.lastUpdateID, r.lastRecvNs = view.Generation, snap.UpdateID, snap.ReceivedAtUnixNs

		rec.UpdateID = snap.UpdateID
		rec.Source = snap.Source
		rec.Metrics = metrics
		if r.withLevels {
			rec.Snapshot = snap
		}
	}

	return r.w.Write(rec)
}

// Path 输出文件路径
func (r *Recorder) Path() string {
	return r.w.Path()
}

// Stats 写入统计
func (r *Recorder) Stats() WriterStats {
	return r.w.Stats()
}

// Close 关闭记录器
func (r *Recorder) Close() error {
	return r.w.Close()
}
