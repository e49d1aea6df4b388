// Package binance 定义 Binance 深度数据的三种上游消息形态。
package binance

import "encoding/json"

// wireProbe 用于识别消息形态的探测结构
// 只解出字段是否存在以及原始内容，具体形态由 Decode 判定后再解码。
// 注意 encoding/json 字段名大小写不敏感，u/U、e/E 必须分别声明，避免互相覆盖。
type wireProbe struct {
	// Bids/Asks 完整字段名形态（REST depth、局部深度推送）或代理形态
	Bids json.RawMessage `json:"bids"`
	Asks json.RawMessage `json:"asks"`
	// LastUpdateID 完整字段名形态的序列号
	LastUpdateID *int64 `json:"lastUpdateId"`

	// B/A 简写形态（增量深度推送）
	B json.RawMessage `json:"b"`
	A json.RawMessage `json:"a"`
	// FinalUpdateID 简写形态的序列号 u
	FinalUpdateID *int64 `json:"u"`
	// FirstUpdateID 简写形态的首个序列号 U（仅占位）
	FirstUpdateID *int64 `json:"U"`
	// EventType 事件类型 e（仅占位）
	EventType string `json:"e"`
	// EventTimeMs 事件时间 E（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对 s
	Symbol string `json:"s"`

	// SymbolID 代理形态的上游标识，如 KRAKEN_SPOT_BTC_USD
	SymbolID string `json:"symbol_id"`
	// TimeExchange 代理形态的交易所时间（RFC3339）
	TimeExchange string `json:"time_exchange"`
}

// DepthSnapshot 完整字段名形态
// REST GET /api/v3/depth 与 <symbol>@depth<N>@<speed>ms 推送均为此形态：
//
//	{"lastUpdateId":160,"bids":[["0.0024","10"]],"asks":[["0.0026","100"]]}
type DepthSnapshot struct {
	// LastUpdateID 序列号
	LastUpdateID int64 `json:"lastUpdateId"`
	// Bids 买盘档位 [价格, 数量]（字符串）
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位 [价格, 数量]（字符串）
	Asks [][]string `json:"asks"`
}

// DepthUpdate 简写形态
// 字段映射：
// - u: 序列号 -> UpdateID
// - E: 事件时间（毫秒） -> ExchTsUnixMs
// - s: Symbol（如 BTCUSDT）
// - b: bids [[price, qty], ...]（字符串）
// - a: asks [[price, qty], ...]（字符串）
type DepthUpdate struct {
	// EventType 事件类型: depthUpdate
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对（大写）
	Symbol string `json:"s"`
	// FirstUpdateID 首个序列号
	FirstUpdateID int64 `json:"U"`
	// FinalUpdateID 最后序列号
	FinalUpdateID int64 `json:"u"`
	// Bids 买盘档位（价格、数量）
	Bids [][]string `json:"b"`
	// Asks 卖盘档位（价格、数量）
	Asks [][]string `json:"a"`
}

// ProxyLevel 代理形态的档位，价格与数量为数字
type ProxyLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// ProxyBook 代理形态（CoinAPI orderbooks/current）
//
//	{"symbol_id":"KRAKEN_SPOT_BTC_USD","time_exchange":"2024-01-01T00:00:00.0000000Z",
//	 "bids":[{"price":100,"size":2}],"asks":[{"price":101,"size":0.5}]}
type ProxyBook struct {
	// SymbolID 上游标识
	SymbolID string `json:"symbol_id"`
	// TimeExchange 交易所时间
	TimeExchange string `json:"time_exchange"`
	// TimeCoinAPI CoinAPI 收到时间
	TimeCoinAPI string `json:"time_coinapi"`
	// Bids 买盘档位
	Bids []ProxyLevel `json:"bids"`
	// Asks 卖盘档位
	Asks []ProxyLevel `json:"asks"`
}

// errorBody REST 错误响应体
// Binance 返回 {"code":-1121,"msg":"Invalid symbol."}，代理返回 {"error":"..."}
type errorBody struct {
	Error string `json:"error"`
	Msg   string `json:"msg"`
}
