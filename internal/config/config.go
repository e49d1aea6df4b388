// Package config 负责加载和验证 YAML 配置文件。
// 提供订单簿组件所需的全部配置项：交易所地址、传输模式、支持的交易对、代理服务等。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"orderbook-feed/internal/core/model"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Venue 交易所接口配置
	Venue VenueConfig `yaml:"venue"`
	// Feed 传输适配器配置
	Feed FeedConfig `yaml:"feed"`
	// Symbols 支持的交易对列表
	Symbols []SymbolConfig `yaml:"symbols"`
	// Breaker REST 熔断配置
	Breaker BreakerConfig `yaml:"breaker"`
	// Server 订单簿代理服务配置
	Server ServerConfig `yaml:"server"`
	// Output 快照记录输出配置
	Output OutputConfig `yaml:"output"`
	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// LogFile 日志文件路径，为空时只输出到 stderr
	LogFile string `yaml:"log_file"`
	// LogMaxSizeMB 单个日志文件最大体积（MB）
	LogMaxSizeMB int `yaml:"log_max_size_mb"`
	// LogMaxAgeDays 日志文件保留天数
	LogMaxAgeDays int `yaml:"log_max_age_days"`
}

// VenueConfig 交易所接口配置
type VenueConfig struct {
	// RESTURL REST 基础地址，如 https://api.binance.com/api/v3
	RESTURL string `yaml:"rest_url"`
	// WSURL 深度推送基础地址，如 wss://stream.binance.com:9443/ws
	WSURL string `yaml:"ws_url"`
	// ExchangeInfoURL 交易对元数据地址，为空时只使用配置的交易对列表
	ExchangeInfoURL string `yaml:"exchange_info_url"`
	// DepthLevels 推送深度档位: 5, 10, 20
	DepthLevels int `yaml:"depth_levels"`
	// UpdateSpeedMs 推送频率（毫秒）: 100, 1000
	UpdateSpeedMs int `yaml:"update_speed_ms"`
	// RESTLimit REST 深度档位数
	RESTLimit int `yaml:"rest_limit"`
	// TimeoutMs HTTP 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// FeedConfig 传输适配器配置
type FeedConfig struct {
	// Enabled 是否启用，为 false 时不打开任何通道
	Enabled *bool `yaml:"enabled"`
	// Symbol 初始交易对
	Symbol string `yaml:"symbol"`
	// Mode 传输模式: streaming（websocket）, polling（rest）
	Mode string `yaml:"mode"`
	// PollIntervalMs 轮询间隔（毫秒），仅 polling 模式使用
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// ProxyBaseURL 代理基础地址，非空时 REST 请求改走 {base}/api/orderbook
	ProxyBaseURL string `yaml:"proxy_base_url"`
	// RefreshRPS 手动刷新限速（次/秒）
	RefreshRPS float64 `yaml:"refresh_rps"`
	// WarmupFetch streaming 模式下连接期间是否先拉一次 REST 快照
	WarmupFetch *bool `yaml:"warmup_fetch"`
	// Reconnect 推送通道出错后的重连策略
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig 推送通道重连策略，默认关闭
type ReconnectConfig struct {
	// Enabled 是否自动重连
	Enabled bool `yaml:"enabled"`
	// BaseMs 基础退避（毫秒）
	BaseMs int `yaml:"base_ms"`
	// MaxMs 最大退避（毫秒）
	MaxMs int `yaml:"max_ms"`
	// Jitter 抖动比例（0-1）
	Jitter float64 `yaml:"jitter"`
	// MaxAttempts 最大重试次数，0 表示不限
	MaxAttempts int `yaml:"max_attempts"`
}

// SymbolConfig 交易对配置
type SymbolConfig struct {
	// ID 交易所交易对标识，如 BTCUSDT
	ID string `yaml:"id"`
	// Label 展示名称，如 BTC/USDT
	Label string `yaml:"label"`
}

// BreakerConfig REST 熔断配置
type BreakerConfig struct {
	// ConsecutiveFailures 连续失败次数达到该值后熔断
	ConsecutiveFailures int `yaml:"consecutive_failures"`
	// OpenTimeoutMs 熔断持续时间（毫秒）
	OpenTimeoutMs int `yaml:"open_timeout_ms"`
}

// ServerConfig 订单簿代理服务配置
type ServerConfig struct {
	// Listen 监听地址
	Listen string `yaml:"listen"`
	// AllowedOrigins CORS 允许的来源
	AllowedOrigins []string `yaml:"allowed_origins"`
	// AllowedOriginSuffixes CORS 允许的来源后缀，如 .vercel.app
	AllowedOriginSuffixes []string `yaml:"allowed_origin_suffixes"`
	// DefaultOrigin 来源不在允许列表时回写的 Allow-Origin
	DefaultOrigin string `yaml:"default_origin"`
	// CoinAPIURL CoinAPI 基础地址
	CoinAPIURL string `yaml:"coinapi_url"`
	// CoinAPIKey CoinAPI 密钥（建议通过 COINAPI_KEY 环境变量注入）
	CoinAPIKey string `yaml:"coinapi_key"`
	// DefaultSymbol 请求未带 symbol 时使用的标识
	DefaultSymbol string `yaml:"default_symbol"`
	// LimitLevels 上游返回的档位数
	LimitLevels int `yaml:"limit_levels"`
	// CacheMaxAgeS 响应 s-maxage（秒）
	CacheMaxAgeS int `yaml:"cache_max_age_s"`
	// UpstreamRPS 上游请求限速（次/秒）
	UpstreamRPS float64 `yaml:"upstream_rps"`
}

// OutputConfig 快照记录输出配置
type OutputConfig struct {
	// Enabled 是否记录快照
	Enabled bool `yaml:"enabled"`
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否暴露 /metrics
	Enabled bool `yaml:"enabled"`
	// Listen 监听地址
	Listen string `yaml:"listen"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径；为空时只使用默认值与环境变量
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}
	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyEnvOverrides 使用环境变量覆盖配置
func (c *Config) applyEnvOverrides() {
	setStr(&c.Feed.ProxyBaseURL, "ORDERBOOK_API_URL")
	setStr(&c.Feed.Symbol, "ORDERBOOK_SYMBOL")
	setStr(&c.Feed.Mode, "ORDERBOOK_MODE")
	setInt(&c.Feed.PollIntervalMs, "ORDERBOOK_POLL_INTERVAL_MS")
	setStr(&c.App.LogLevel, "ORDERBOOK_LOG_LEVEL")
	setStr(&c.Server.CoinAPIKey, "COINAPI_KEY")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// defaultSymbols 默认支持的交易对
var defaultSymbols = []SymbolConfig{
	{ID: "BTCUSDT", Label: "BTC/USDT"},
	{ID: "ETHUSDT", Label: "ETH/USDT"},
	{ID: "BNBUSDT", Label: "BNB/USDT"},
	{ID: "SOLUSDT", Label: "SOL/USDT"},
	{ID: "XRPUSDT", Label: "XRP/USDT"},
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "orderbook-feed"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogMaxSizeMB == 0 {
		c.App.LogMaxSizeMB = 100
	}
	if c.App.LogMaxAgeDays == 0 {
		c.App.LogMaxAgeDays = 7
	}

	if c.Venue.RESTURL == "" {
		c.Venue.RESTURL = "https://api.binance.com/api/v3"
	}
	if c.Venue.WSURL == "" {
		c.Venue.WSURL = "wss://stream.binance.com:9443/ws"
	}
	if c.Venue.DepthLevels == 0 {
		c.Venue.DepthLevels = 20
	}
	if c.Venue.UpdateSpeedMs == 0 {
		c.Venue.UpdateSpeedMs = 100
	}
	if c.Venue.RESTLimit == 0 {
		c.Venue.RESTLimit = 20
	}
	if c.Venue.TimeoutMs == 0 {
		c.Venue.TimeoutMs = 10000 // 10 秒
	}

	if c.Feed.Enabled == nil {
		enabled := true
		c.Feed.Enabled = &enabled
	}
	if c.Feed.Symbol == "" {
		c.Feed.Symbol = "XRPUSDT"
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = string(model.ModeStreaming)
	}
	if c.Feed.PollIntervalMs == 0 {
		c.Feed.PollIntervalMs = 1000 // 1 秒
	}
	if c.Feed.RefreshRPS == 0 {
		c.Feed.RefreshRPS = 2
	}
	if c.Feed.WarmupFetch == nil {
		warmup := true
		c.Feed.WarmupFetch = &warmup
	}
	c.Feed.Symbol = strings.ToUpper(strings.TrimSpace(c.Feed.Symbol))
	c.Feed.ProxyBaseURL = strings.TrimRight(c.Feed.ProxyBaseURL, "/")
	if c.Feed.Reconnect.BaseMs == 0 {
		c.Feed.Reconnect.BaseMs = 1000
	}
	if c.Feed.Reconnect.MaxMs == 0 {
		c.Feed.Reconnect.MaxMs = 30000
	}

	if len(c.Symbols) == 0 {
		c.Symbols = append([]SymbolConfig(nil), defaultSymbols...)
	}
	for i := range c.Symbols {
		c.Symbols[i].ID = strings.ToUpper(strings.TrimSpace(c.Symbols[i].ID))
	}

	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.OpenTimeoutMs == 0 {
		c.Breaker.OpenTimeoutMs = 10000
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "https://darce.xyz", "https://www.darce.xyz"}
	}
	if c.Server.AllowedOriginSuffixes == nil {
		c.Server.AllowedOriginSuffixes = []string{".vercel.app"}
	}
	if c.Server.DefaultOrigin == "" {
		c.Server.DefaultOrigin = "http://localhost:3000"
	}
	if c.Server.CoinAPIURL == "" {
		c.Server.CoinAPIURL = "https://rest.coinapi.io/v1"
	}
	if c.Server.DefaultSymbol == "" {
		c.Server.DefaultSymbol = "KRAKEN_SPOT_BTC_USD"
	}
	if c.Server.LimitLevels == 0 {
		c.Server.LimitLevels = 50
	}
	if c.Server.CacheMaxAgeS == 0 {
		c.Server.CacheMaxAgeS = 5
	}
	if c.Server.UpstreamRPS == 0 {
		c.Server.UpstreamRPS = 10
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9102"
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证交易所接口
	if c.Venue.RESTURL == "" {
		errs = append(errs, "venue.rest_url: REST 地址不能为空")
	}
	if c.Venue.WSURL == "" {
		errs = append(errs, "venue.ws_url: WebSocket 地址不能为空")
	}
	switch c.Venue.DepthLevels {
	case 5, 10, 20:
	default:
		errs = append(errs, fmt.Sprintf("venue.depth_levels: 无效的深度档位 %d，有效值: 5, 10, 20", c.Venue.DepthLevels))
	}
	switch c.Venue.UpdateSpeedMs {
	case 100, 1000:
	default:
		errs = append(errs, fmt.Sprintf("venue.update_speed_ms: 无效的推送频率 %d，有效值: 100, 1000", c.Venue.UpdateSpeedMs))
	}
	if c.Venue.RESTLimit <= 0 || c.Venue.RESTLimit > 5000 {
		errs = append(errs, "venue.rest_limit: 档位数必须在 1-5000 之间")
	}
	if c.Venue.TimeoutMs <= 0 {
		errs = append(errs, "venue.timeout_ms: 超时时间必须为正数")
	}

	// 验证交易对列表
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: 至少需要配置一个交易对")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for i, sym := range c.Symbols {
		if sym.ID == "" {
			errs = append(errs, fmt.Sprintf("symbols[%d].id: 交易对不能为空", i))
			continue
		}
		if seen[sym.ID] {
			errs = append(errs, fmt.Sprintf("symbols[%d].id: 重复的交易对 '%s'", i, sym.ID))
		}
		seen[sym.ID] = true
	}

	// 验证传输适配器
	if _, err := model.ParseMode(c.Feed.Mode); err != nil {
		errs = append(errs, "feed.mode: "+err.Error())
	}
	if c.Feed.Symbol == "" {
		errs = append(errs, "feed.symbol: 初始交易对不能为空")
	} else if len(c.Symbols) > 0 && !seen[c.Feed.Symbol] {
		errs = append(errs, fmt.Sprintf("feed.symbol: 初始交易对 '%s' 不在 symbols 列表中", c.Feed.Symbol))
	}
	if c.Feed.PollIntervalMs <= 0 {
		errs = append(errs, "feed.poll_interval_ms: 轮询间隔必须为正数")
	}
	if c.Feed.RefreshRPS < 0 {
		errs = append(errs, "feed.refresh_rps: 刷新限速不能为负数")
	}
	if c.Feed.Reconnect.BaseMs <= 0 || c.Feed.Reconnect.MaxMs < c.Feed.Reconnect.BaseMs {
		errs = append(errs, "feed.reconnect: base_ms 必须为正数且 max_ms >= base_ms")
	}
	if c.Feed.Reconnect.Jitter < 0 || c.Feed.Reconnect.Jitter > 1 {
		errs = append(errs, "feed.reconnect.jitter: 抖动比例必须在 0-1 之间")
	}
	if c.Feed.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "feed.reconnect.max_attempts: 重试次数不能为负数")
	}

	// 验证熔断
	if c.Breaker.ConsecutiveFailures < 0 {
		errs = append(errs, "breaker.consecutive_failures: 不能为负数")
	}
	if c.Breaker.OpenTimeoutMs <= 0 {
		errs = append(errs, "breaker.open_timeout_ms: 熔断时间必须为正数")
	}

	// 验证代理服务
	if c.Server.LimitLevels <= 0 {
		errs = append(errs, "server.limit_levels: 档位数必须为正数")
	}
	if c.Server.CacheMaxAgeS < 0 {
		errs = append(errs, "server.cache_max_age_s: 不能为负数")
	}
	if c.Server.UpstreamRPS < 0 {
		errs = append(errs, "server.upstream_rps: 不能为负数")
	}

	// 验证输出
	if c.Output.BufferSize < 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小不能为负数")
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// FeedMode 返回解析后的传输模式（Validate 通过后调用）
func (c *Config) FeedMode() model.Mode {
	m, err := model.ParseMode(c.Feed.Mode)
	if err != nil {
		return model.ModeStreaming
	}
	return m
}

// FeedEnabled 传输适配器是否启用
func (c *Config) FeedEnabled() bool {
	return c.Feed.Enabled == nil || *c.Feed.Enabled
}

// WarmupEnabled streaming 模式是否先做 REST 预热
func (c *Config) WarmupEnabled() bool {
	return c.Feed.WarmupFetch == nil || *c.Feed.WarmupFetch
}

// SymbolIDs 获取所有配置的交易对标识
func (c *Config) SymbolIDs() []string {
	ids := make([]string, len(c.Symbols))
	for i, sym := range c.Symbols {
		ids[i] = sym.ID
	}
	return ids
}
