// Package backoff 实现推送通道的可选重连策略。
// 默认关闭：通道出错后保持 Errored，由调用方决定是否 Reconnect。
// 启用后按指数退避重试，最多重试 MaxAttempts 次（0 表示不限次数）。
package backoff

import (
	"math/rand"
	"time"
)

// maxShift 限制位移次数，避免 base<<attempt 溢出
const maxShift = 30

// Backoff 指数退避计算器
// 每次调用 Next() 返回下一次重试的等待时间，以及是否还允许重试
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// maxAttempts 最大重试次数，0 表示不限
	maxAttempts int
	// attempt 当前重试次数
	attempt int
}

// New 创建新的退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间
// 参数 jitter: 抖动比例
// 参数 maxAttempts: 最大重试次数，0 表示不限
func New(base, max time.Duration, jitter float64, maxAttempts int) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		base:        base,
		max:         max,
		jitter:      jitter,
		maxAttempts: maxAttempts,
	}
}

// NewDefault 创建默认配置的退避计算器
// 基础间隔 1s，最大间隔 30s，抖动 ±20%，最多 5 次
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2, 5)
}

// Next 获取下次重试的等待时间
// 计算公式: min(base * 2^attempt, max)，然后应用抖动
// 返回 ok=false 表示重试次数已用尽
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.maxAttempts > 0 && b.attempt >= b.maxAttempts {
		return 0, false
	}

	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay = b.base << uint(shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	if b.jitter > 0 {
		jitterFactor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	b.attempt++
	return delay, true
}

// Reset 重置退避计算器
// 在收到第一条有效推送后调用
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
