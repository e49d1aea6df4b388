package model

import (
	"errors"
	"fmt"
)

// ErrUnsupportedSymbol 交易对不在支持列表中
var ErrUnsupportedSymbol = errors.New("不支持的交易对")

// ConfigurationError 配置错误，在打开通道前同步返回给调用方
type ConfigurationError struct {
	// Symbol 出错的交易对
	Symbol string
	// Err 底层原因
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("配置错误 symbol=%q: %v", e.Symbol, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError 连接层错误（HTTP 状态码、拨号失败、连接中断）
// 不会越过适配器边界抛出，只以字符串形式暴露。
type TransportError struct {
	// Op 出错的操作: dial, read, fetch
	Op string
	// Err 底层原因
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError 单条消息解析失败，整条消息被丢弃
type ParseError struct {
	// Reason 失败原因
	Reason string
	// Err 底层原因，可为空
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("解析失败: %s: %v", e.Reason, e.Err)
	}
	return "解析失败: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }
