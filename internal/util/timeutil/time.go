// Package timeutil 提供时间相关的工具函数。
// 用于快照到达时间戳与消息间隔统计。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 使用“单调时钟 + 启动时 Unix 时间”组合实现，系统时间跳变时间隔统计仍保持单调。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMs 获取当前时间的毫秒时间戳
func NowMs() int64 {
	return NowNano() / 1_000_000
}

// NanoToMs 将纳秒时长转换为毫秒（浮点，保留精度）
func NanoToMs(ns int64) float64 {
	return float64(ns) / 1_000_000.0
}

// MsToDuration 将毫秒配置值转换为 time.Duration
func MsToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ParseExchangeTime 解析 RFC3339 时间字符串为毫秒时间戳
// 空字符串或格式错误返回 0
func ParseExchangeTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
