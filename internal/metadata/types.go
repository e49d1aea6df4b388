// Package metadata 维护支持的交易对列表，可选地与交易所元数据取交集。
package metadata

// ExchangeInfoResponse Binance 现货元数据 API 响应
// API: GET /api/v3/exchangeInfo
type ExchangeInfoResponse struct {
	// Timezone 服务器时区
	Timezone string `json:"timezone"`
	// ServerTime 服务器时间
	ServerTime int64 `json:"serverTime"`
	// Symbols 交易对列表
	Symbols []BinanceSymbol `json:"symbols"`
}

// BinanceSymbol Binance 现货交易对信息
type BinanceSymbol struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// Status 交易对状态: TRADING, BREAK, HALT
	Status string `json:"status"`
	// BaseAsset 标的资产，如 BTC
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 报价资产，如 USDT
	QuoteAsset string `json:"quoteAsset"`
}

// IsTrading 判断交易对是否处于可交易状态
func (s *BinanceSymbol) IsTrading() bool {
	return s.Status == "TRADING"
}

// Label 生成展示名称，如 BTC/USDT
func (s *BinanceSymbol) Label() string {
	if s.BaseAsset == "" || s.QuoteAsset == "" {
		return s.Symbol
	}
	return s.BaseAsset + "/" + s.QuoteAsset
}

// SymbolInfo 支持的交易对
type SymbolInfo struct {
	// ID 交易所标识，如 BTCUSDT
	ID string `json:"id"`
	// Label 展示名称，如 BTC/USDT
	Label string `json:"label"`
}
