package model

import (
	"fmt"
	"strings"
)

// ConnectionState 传输适配器连接状态
// 作用域为单个适配器实例，切换交易对时重置。
type ConnectionState int

const (
	// StateDisconnected 未连接
	StateDisconnected ConnectionState = iota
	// StateConnecting 连接中（已打开通道，尚未收到第一条有效推送）
	StateConnecting
	// StateConnected 已连接
	StateConnected
	// StateErrored 通道出错（保留最后一份有效快照）
	StateErrored
)

// String 返回状态名称
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText 以名称形式编码
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode 传输模式
type Mode string

const (
	// ModeStreaming WebSocket 推送
	ModeStreaming Mode = "streaming"
	// ModePolling REST 定时轮询
	ModePolling Mode = "polling"
)

// ParseMode 解析传输模式
// 兼容 websocket/ws 与 rest 的写法。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "streaming", "stream", "websocket", "ws":
		return ModeStreaming, nil
	case "polling", "poll", "rest":
		return ModePolling, nil
	default:
		return "", fmt.Errorf("未知的传输模式 '%s'，有效值: streaming, polling", s)
	}
}

// View 适配器对展示层暴露的只读状态
type View struct {
	// Data 当前快照，尚未收到数据时为 nil
	Data *OrderBookSnapshot `json:"data"`
	// Loading 是否加载中
	Loading bool `json:"loading"`
	// Error 最近一次传输错误，无错误时为空
	Error string `json:"error,omitempty"`
	// IsConnected 是否已连接
	IsConnected bool `json:"is_connected"`
	// Symbol 当前订阅的交易对
	Symbol string `json:"symbol"`
	// Mode 当前传输模式
	Mode Mode `json:"mode"`
	// State 连接状态
	State ConnectionState `json:"state"`
	// Generation 当前通道代号
	Generation uint64 `json:"generation"`
}
