package metadata

import (
	"context"
	"fmt"
	"strings"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/core/model"
)

// Registry 支持的交易对注册表
// 构建后只读，可并发访问。
type Registry struct {
	// order 保持配置顺序
	order []string
	// symbols key 为标准化后的交易对
	symbols map[string]SymbolInfo
}

// NewRegistry 根据交易对列表创建注册表
func NewRegistry(symbols []SymbolInfo) *Registry {
	r := &Registry{symbols: make(map[string]SymbolInfo, len(symbols))}
	for _, s := range symbols {
		id := NormalizeSymbol(s.ID)
		if id == "" {
			continue
		}
		if _, dup := r.symbols[id]; dup {
			continue
		}
		if s.Label == "" {
			s.Label = id
		}
		s.ID = id
		r.symbols[id] = s
		r.order = append(r.order, id)
	}
	return r
}

// BuildRegistry 构建交易对注册表
// 以配置的交易对列表为准；若配置了 exchange_info_url，则剔除交易所上不可交易的交易对。
// 参数 ctx: 上下文
// 参数 cfg: 配置
// 参数 f: 元数据获取器，可为 nil（此时跳过远端校验）
func BuildRegistry(ctx context.Context, cfg *config.Config, f Fetcher) (*Registry, error) {
	configured := make([]SymbolInfo, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		configured = append(configured, SymbolInfo{ID: s.ID, Label: s.Label})
	}

	if cfg.Venue.ExchangeInfoURL == "" || f == nil {
		return NewRegistry(configured), nil
	}

	ids := make([]string, 0, len(configured))
	for _, s := range configured {
		ids = append(ids, s.ID)
	}
	venueSyms, err := f.FetchBinanceSpot(ctx, cfg.Venue.ExchangeInfoURL, ids)
	if err != nil {
		return nil, fmt.Errorf("获取交易所元数据失败: %w", err)
	}

	index := make(map[string]*BinanceSymbol, len(venueSyms))
	for i := range venueSyms {
		sym := &venueSyms[i]
		if sym.IsTrading() {
			index[NormalizeSymbol(sym.Symbol)] = sym
		}
	}

	kept := make([]SymbolInfo, 0, len(configured))
	var missing []string
	for _, s := range configured {
		venueSym, ok := index[NormalizeSymbol(s.ID)]
		if !ok {
			missing = append(missing, s.ID)
			continue
		}
		if s.Label == "" {
			s.Label = venueSym.Label()
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("配置的交易对在交易所均不可交易: %s", strings.Join(missing, ", "))
	}

	return NewRegistry(kept), nil
}

// Supports 判断交易对是否受支持
func (r *Registry) Supports(symbol string) bool {
	_, ok := r.symbols[NormalizeSymbol(symbol)]
	return ok
}

// Resolve 校验并返回标准化后的交易对
// 不支持时返回 *model.ConfigurationError
func (r *Registry) Resolve(symbol string) (string, error) {
	id := NormalizeSymbol(symbol)
	if _, ok := r.symbols[id]; !ok {
		return "", &model.ConfigurationError{Symbol: symbol, Err: model.ErrUnsupportedSymbol}
	}
	return id, nil
}

// Label 获取展示名称，不支持时返回原值
func (r *Registry) Label(symbol string) string {
	if s, ok := r.symbols[NormalizeSymbol(symbol)]; ok {
		return s.Label
	}
	return symbol
}

// Symbols 按配置顺序返回全部交易对
func (r *Registry) Symbols() []SymbolInfo {
	out := make([]SymbolInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.symbols[id])
	}
	return out
}

// NormalizeSymbol 标准化交易对格式
// 移除分隔符，转为大写
// 例如: BTC-USDT -> BTCUSDT, btc_usdt -> BTCUSDT
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}
