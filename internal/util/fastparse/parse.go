// Package fastparse 提供交易所行情字段的字符串解析函数。
// 使用 strconv 进行转换，避免在热路径使用 fmt。
package fastparse

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrNotFinite 数值为 NaN 或 Inf
	ErrNotFinite = errors.New("数值非有限")
	// ErrNegative 数值为负
	ErrNegative = errors.New("数值为负")
)

// ParseFloat 解析浮点数字符串
// 参数 s: 待解析的字符串，如 "12345.67"
// 返回: 解析后的浮点数和可能的错误
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// ParseNonNegative 解析非负有限浮点数
// "NaN"、"Inf"、负数以及非数字字符串都会返回错误
func ParseNonNegative(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return v, CheckNonNegative(v)
}

// CheckNonNegative 校验数值为非负有限数
func CheckNonNegative(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrNotFinite
	}
	if v < 0 {
		return ErrNegative
	}
	return nil
}

// ParseLevel 解析一档 [price, size] 字符串对
// 参数 pair: 上游二元数组，元素个数不足 2 视为错误，多余元素忽略
// 返回: 价格、数量
func ParseLevel(pair []string) (price, size float64, err error) {
	if len(pair) < 2 {
		return 0, 0, fmt.Errorf("档位元素个数=%d，至少需要 2 个", len(pair))
	}
	if price, err = ParseNonNegative(pair[0]); err != nil {
		return 0, 0, fmt.Errorf("价格 %q: %w", pair[0], err)
	}
	if size, err = ParseNonNegative(pair[1]); err != nil {
		return 0, 0, fmt.Errorf("数量 %q: %w", pair[1], err)
	}
	return price, size, nil
}

// FormatFloat 格式化浮点数为字符串
// 参数 prec: 小数位数，-1 表示最短表示
func FormatFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}
