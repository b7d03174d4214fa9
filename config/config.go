package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 支持的交易所（行情/下单场所）
var supportedExchanges = map[string]bool{
	"gate": true,
}

var validate = validator.New()

// ExchangeConfig 交易所 API 配置
type ExchangeConfig struct {
	APIKey    string  `yaml:"api_key" json:"api_key"`
	SecretKey string  `yaml:"secret_key" json:"secret_key"`
	BaseURL   string  `yaml:"base_url" json:"base_url"` // 为空时使用交易所默认地址
	FeeRate   float64 `yaml:"fee_rate" json:"fee_rate"` // 手续费率（例如 0.002 表示 0.2%），模拟盘按此计算手续费
}

// TradingConfig 交易循环配置
type TradingConfig struct {
	Symbols       []string `yaml:"symbols" json:"symbols"`               // 交易对列表，如 BTC_USDT
	QuoteCurrency string   `yaml:"quote_currency" json:"quote_currency"` // 计价币种，默认 USDT
	DryRun        *bool    `yaml:"dry_run" json:"dry_run"`               // 模拟盘模式，默认 true
	PaperBalance  float64  `yaml:"paper_balance" json:"paper_balance"`   // 模拟盘初始计价币余额，默认 10000

	CycleInterval        int     `yaml:"cycle_interval" json:"cycle_interval"`                 // 循环间隔（秒），默认 60
	ErrorBackoff         int     `yaml:"error_backoff" json:"error_backoff"`                   // 循环异常后的等待时间（秒），默认 300
	MaxConcurrentTrades  int     `yaml:"max_concurrent_trades" json:"max_concurrent_trades"`   // 同时持仓上限，默认 3
	MinConfidence        float64 `yaml:"min_confidence" json:"min_confidence"`                 // 信号最低置信度，默认 0.6
	TakeProfitPercentage float64 `yaml:"take_profit_percentage" json:"take_profit_percentage"` // 止盈百分比，默认 10
	UseMarketOrders      bool    `yaml:"use_market_orders" json:"use_market_orders"`           // 使用市价单（IOC），默认限价单（GTC）

	CandleInterval string `yaml:"candle_interval" json:"candle_interval"` // 指标K线周期，默认 1h
	CandleLimit    int    `yaml:"candle_limit" json:"candle_limit"`       // 指标K线数量，默认 100，0 以下关闭

	PositionLookbackHours int `yaml:"position_lookback_hours" json:"position_lookback_hours"` // 实盘由成交推导持仓的回溯时长（小时），默认 168
}

// IsDryRun 是否模拟盘
func (t TradingConfig) IsDryRun() bool {
	return t.DryRun == nil || *t.DryRun
}

// RiskConfig 风控参数，数值必须大于0
type RiskConfig struct {
	MaxDailyLoss         float64 `yaml:"max_daily_loss" json:"max_daily_loss" validate:"gt=0"`
	MaxPositionSize      float64 `yaml:"max_position_size" json:"max_position_size" validate:"gt=0"`
	StopLossPercentage   float64 `yaml:"stop_loss_percentage" json:"stop_loss_percentage" validate:"gt=0,lte=100"`
	MaxOpenPositions     int     `yaml:"max_open_positions" json:"max_open_positions" validate:"gt=0"`
	EmergencyStopEnabled *bool   `yaml:"emergency_stop_enabled" json:"emergency_stop_enabled"` // 默认 true
	MinTradeSize         float64 `yaml:"min_trade_size" json:"min_trade_size" validate:"gt=0"` // 最小下单金额，默认 10
}

// EmergencyStop 是否允许触发紧急停止
func (r RiskConfig) EmergencyStop() bool {
	return r.EmergencyStopEnabled == nil || *r.EmergencyStopEnabled
}

// ResilienceConfig 限流、熔断与重试配置
type ResilienceConfig struct {
	RateLimit struct {
		Capacity int `yaml:"capacity" json:"capacity" validate:"gt=0"`   // 窗口内最大请求数，默认 10
		WindowMs int `yaml:"window_ms" json:"window_ms" validate:"gt=0"` // 窗口长度（毫秒），默认 1000
	} `yaml:"rate_limit" json:"rate_limit"`

	CircuitBreaker struct {
		FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" validate:"gt=0"` // 连续失败次数，默认 5
		ResetTimeoutMs   int `yaml:"reset_timeout_ms" json:"reset_timeout_ms" validate:"gt=0"`   // 熔断恢复探测时间（毫秒），默认 60000
	} `yaml:"circuit_breaker" json:"circuit_breaker"`

	Retry struct {
		MaxRetries  int `yaml:"max_retries" json:"max_retries" validate:"gte=0"`    // 默认 3
		BaseDelayMs int `yaml:"base_delay_ms" json:"base_delay_ms" validate:"gt=0"` // 默认 1000
	} `yaml:"retry" json:"retry"`

	RequestTimeoutMs int `yaml:"request_timeout_ms" json:"request_timeout_ms" validate:"gt=0"` // 单次请求超时（毫秒），默认 10000

	OrderRate struct {
		PerSecond float64 `yaml:"per_second" json:"per_second" validate:"gt=0"` // 下单速率，默认 10
		Burst     int     `yaml:"burst" json:"burst" validate:"gt=0"`           // 突发，默认 20
	} `yaml:"order_rate" json:"order_rate"`
}

// Config 系统配置
type Config struct {
	// 应用配置
	App struct {
		CurrentExchange string `yaml:"current_exchange"` // 当前使用的交易所，默认 gate
	} `yaml:"app"`

	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Resilience ResilienceConfig `yaml:"resilience"`

	// 信号来源
	Signals struct {
		Source    string `yaml:"source"`     // queue / redis，默认 queue
		QueueSize int    `yaml:"queue_size"` // 内存队列容量，默认 100

		Redis struct {
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			Key       string `yaml:"key"`        // 列表键，默认 tradeguard:signals
			BatchSize int    `yaml:"batch_size"` // 每轮最多读取条数，默认 20
		} `yaml:"redis"`
	} `yaml:"signals"`

	// 异步存储
	Storage struct {
		Enabled       bool   `yaml:"enabled"`
		BufferSize    int    `yaml:"buffer_size"`    // 事件缓冲大小，默认 1000
		BatchSize     int    `yaml:"batch_size"`     // 批量写入大小，默认 50
		FlushInterval int    `yaml:"flush_interval"` // 刷新间隔（秒），默认 5
		FallbackLog   string `yaml:"fallback_log"`   // 数据库失败时的回退日志，默认 ./data/storage_fallback.log
	} `yaml:"storage"`

	// 事件中心（事件入库与保留策略）
	Events struct {
		Enabled         bool `yaml:"enabled"`
		CleanupInterval int  `yaml:"cleanup_interval"` // 小时，默认 24

		Retention struct {
			CriticalDays     int `yaml:"critical_days"`      // 默认 90
			WarningDays      int `yaml:"warning_days"`       // 默认 30
			InfoDays         int `yaml:"info_days"`          // 默认 7
			CriticalMaxCount int `yaml:"critical_max_count"` // 默认 10000
			WarningMaxCount  int `yaml:"warning_max_count"`  // 默认 10000
			InfoMaxCount     int `yaml:"info_max_count"`     // 默认 5000
		} `yaml:"retention"`
	} `yaml:"events"`

	Database struct {
		Type            string `yaml:"type"`              // sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 默认 ./data/tradeguard.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 默认 20
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 默认 5
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒，默认 3600
		LogLevel        string `yaml:"log_level"`         // silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 分布式锁（同一账户只允许一个引擎实例）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Prefix     string `yaml:"prefix"`      // 默认 "tradeguard:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 秒，默认 30

		Redis struct {
			Addr     string `yaml:"addr"` // 默认 localhost:6379
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"` // 默认 10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	Notifications struct {
		Enabled bool `yaml:"enabled"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒，默认 3
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	Web struct {
		Enabled      bool   `yaml:"enabled"`
		Host         string `yaml:"host"`           // 默认 0.0.0.0
		Port         int    `yaml:"port"`           // 默认 28888
		APITokenHash string `yaml:"api_token_hash"` // bcrypt 哈希，写操作需要 Bearer token
	} `yaml:"web"`

	System struct {
		LogLevel      string `yaml:"log_level"` // DEBUG, INFO, WARN, ERROR, FATAL，默认 INFO
		LogFile       string `yaml:"log_file"`  // 为空时只输出控制台
		LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
		LogMaxBackups int    `yaml:"log_max_backups"`
		LogMaxAgeDays int    `yaml:"log_max_age_days"`
		Timezone      string `yaml:"timezone"` // 默认 UTC，日亏损按此时区切日
		NodeID        int64  `yaml:"node_id"`  // snowflake 节点号 0-1023
	} `yaml:"system"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %v", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}

	return nil
}

// Clone 深度复制配置
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("序列化配置失败: %v", err)
	}
	var out Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析配置失败: %v", err)
	}
	return &out, nil
}

// CurrentExchangeConfig 当前交易所的 API 配置
func (c *Config) CurrentExchangeConfig() ExchangeConfig {
	return c.Exchanges[c.App.CurrentExchange]
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.App.CurrentExchange == "" {
		c.App.CurrentExchange = "gate"
	}
	c.App.CurrentExchange = strings.ToLower(c.App.CurrentExchange)
	if !supportedExchanges[c.App.CurrentExchange] {
		return fmt.Errorf("不支持的交易所: %s", c.App.CurrentExchange)
	}
	if c.Exchanges == nil {
		c.Exchanges = make(map[string]ExchangeConfig)
	}

	exchangeCfg := c.Exchanges[c.App.CurrentExchange]
	if exchangeCfg.FeeRate < 0 {
		return fmt.Errorf("交易所 %s 的手续费率不能为负数", c.App.CurrentExchange)
	}

	if err := c.validateTrading(); err != nil {
		return err
	}

	// 实盘必须有完整的 API 配置
	if !c.Trading.IsDryRun() && (exchangeCfg.APIKey == "" || exchangeCfg.SecretKey == "") {
		return fmt.Errorf("实盘模式下交易所 %s 的 API 配置不完整", c.App.CurrentExchange)
	}

	if err := c.validateRisk(); err != nil {
		return err
	}
	if err := c.validateResilience(); err != nil {
		return err
	}

	c.setDefaults()

	switch c.Signals.Source {
	case "queue", "redis":
	default:
		return fmt.Errorf("不支持的信号来源: %s (可选 queue/redis)", c.Signals.Source)
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("Web 端口无效: %d", c.Web.Port)
	}
	if c.System.NodeID < 0 || c.System.NodeID > 1023 {
		return fmt.Errorf("节点号必须在 0-1023 之间: %d", c.System.NodeID)
	}

	return nil
}

func (c *Config) validateTrading() error {
	t := &c.Trading

	symbols := make([]string, 0, len(t.Symbols))
	seen := make(map[string]bool)
	for _, s := range t.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("必须至少配置一个交易对 (trading.symbols)")
	}
	t.Symbols = symbols

	if t.QuoteCurrency == "" {
		t.QuoteCurrency = "USDT"
	}
	t.QuoteCurrency = strings.ToUpper(t.QuoteCurrency)

	if t.DryRun == nil {
		dryRun := true
		t.DryRun = &dryRun
	}
	if t.PaperBalance <= 0 {
		t.PaperBalance = 10000
	}
	if t.CycleInterval <= 0 {
		t.CycleInterval = 60
	}
	if t.ErrorBackoff <= 0 {
		t.ErrorBackoff = 300
	}
	if t.ErrorBackoff < t.CycleInterval {
		return fmt.Errorf("异常等待时间 (%d) 不能小于循环间隔 (%d)", t.ErrorBackoff, t.CycleInterval)
	}
	if t.MaxConcurrentTrades <= 0 {
		t.MaxConcurrentTrades = 3
	}
	if t.MinConfidence == 0 {
		t.MinConfidence = 0.6
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("最低置信度必须在 0-1 之间: %.2f", t.MinConfidence)
	}
	if t.TakeProfitPercentage <= 0 {
		t.TakeProfitPercentage = 10
	}
	if t.CandleInterval == "" {
		t.CandleInterval = "1h"
	}
	if t.CandleLimit == 0 {
		t.CandleLimit = 100
	}
	if t.PositionLookbackHours <= 0 {
		t.PositionLookbackHours = 168
	}

	return nil
}

func (c *Config) validateRisk() error {
	r := &c.Risk

	if r.MaxDailyLoss == 0 {
		r.MaxDailyLoss = 100
	}
	if r.MaxPositionSize == 0 {
		r.MaxPositionSize = 500
	}
	if r.StopLossPercentage == 0 {
		r.StopLossPercentage = 5
	}
	if r.MaxOpenPositions == 0 {
		r.MaxOpenPositions = 5
	}
	if r.MinTradeSize == 0 {
		r.MinTradeSize = 10
	}
	if r.EmergencyStopEnabled == nil {
		enabled := true
		r.EmergencyStopEnabled = &enabled
	}

	return ValidateRisk(*r)
}

// ValidateRisk 校验风控参数（热更新接口复用）
func ValidateRisk(r RiskConfig) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("风控配置无效: %w", err)
	}
	return nil
}

func (c *Config) validateResilience() error {
	r := &c.Resilience

	if r.RateLimit.Capacity == 0 {
		r.RateLimit.Capacity = 10
	}
	if r.RateLimit.WindowMs == 0 {
		r.RateLimit.WindowMs = 1000
	}
	if r.CircuitBreaker.FailureThreshold == 0 {
		r.CircuitBreaker.FailureThreshold = 5
	}
	if r.CircuitBreaker.ResetTimeoutMs == 0 {
		r.CircuitBreaker.ResetTimeoutMs = 60000
	}
	if r.Retry.MaxRetries == 0 {
		r.Retry.MaxRetries = 3
	}
	if r.Retry.BaseDelayMs == 0 {
		r.Retry.BaseDelayMs = 1000
	}
	if r.RequestTimeoutMs == 0 {
		r.RequestTimeoutMs = 10000
	}
	if r.OrderRate.PerSecond == 0 {
		r.OrderRate.PerSecond = 10
	}
	if r.OrderRate.Burst == 0 {
		r.OrderRate.Burst = 20
	}

	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("限流/熔断配置无效: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Signals.Source == "" {
		c.Signals.Source = "queue"
	}
	if c.Signals.QueueSize <= 0 {
		c.Signals.QueueSize = 100
	}
	if c.Signals.Redis.Addr == "" {
		c.Signals.Redis.Addr = "localhost:6379"
	}
	if c.Signals.Redis.Key == "" {
		c.Signals.Redis.Key = "tradeguard:signals"
	}
	if c.Signals.Redis.BatchSize <= 0 {
		c.Signals.Redis.BatchSize = 20
	}

	if c.Storage.BufferSize <= 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = 50
	}
	if c.Storage.FlushInterval <= 0 {
		c.Storage.FlushInterval = 5
	}
	if c.Storage.FallbackLog == "" {
		c.Storage.FallbackLog = "./data/storage_fallback.log"
	}

	if c.Events.CleanupInterval <= 0 {
		c.Events.CleanupInterval = 24
	}
	ret := &c.Events.Retention
	if ret.CriticalDays <= 0 {
		ret.CriticalDays = 90
	}
	if ret.WarningDays <= 0 {
		ret.WarningDays = 30
	}
	if ret.InfoDays <= 0 {
		ret.InfoDays = 7
	}
	if ret.CriticalMaxCount <= 0 {
		ret.CriticalMaxCount = 10000
	}
	if ret.WarningMaxCount <= 0 {
		ret.WarningMaxCount = 10000
	}
	if ret.InfoMaxCount <= 0 {
		ret.InfoMaxCount = 5000
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/tradeguard.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "tradeguard:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 30
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 28888
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
}
