package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ClobConfig CLOB 连接配置
type ClobConfig struct {
	Host     string `yaml:"host" json:"host"`
	DataHost string `yaml:"data_host" json:"data_host"`
	WSHost   string `yaml:"ws_host" json:"ws_host"`
	ChainID  int    `yaml:"chain_id" json:"chain_id"`
}

// TradingConfig 交易执行配置
type TradingConfig struct {
	DefaultSlippagePct  float64 `yaml:"default_slippage_pct" json:"default_slippage_pct"`   // GTC 兜底限价的滑点百分比
	GTCFallbackDiscount float64 `yaml:"gtc_fallback_discount" json:"gtc_fallback_discount"` // 卖出重试每次的降价幅度
	MaxSellRetries      int     `yaml:"max_sell_retries" json:"max_sell_retries"`           // 卖出降价重试次数上限
	MinTradeUSD         float64 `yaml:"min_trade_usd" json:"min_trade_usd"`
	MaxTradeUSD         float64 `yaml:"max_trade_usd" json:"max_trade_usd"`
	FeeRateBase         float64 `yaml:"fee_rate_base" json:"fee_rate_base"` // 手续费模型的基准费率
	PaperMode           bool    `yaml:"paper_mode" json:"paper_mode"`       // 纸交易模式
	PaperBalance        float64 `yaml:"paper_balance" json:"paper_balance"` // 纸交易初始余额
}

// StreamConfig 行情流配置
type StreamConfig struct {
	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay" json:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
	PingInterval      time.Duration `yaml:"ping_interval" json:"ping_interval"`
	HistorySize       int           `yaml:"history_size" json:"history_size"` // 每个资产保留的价格历史条数
	StaleAfter        time.Duration `yaml:"stale_after" json:"stale_after"`   // 超过此时长未更新视为过期
}

// VaultConfig 凭证保险库配置
type VaultConfig struct {
	PBKDF2Iterations  int `yaml:"pbkdf2_iterations" json:"pbkdf2_iterations"`
	MinPasswordLength int `yaml:"min_password_length" json:"min_password_length"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`               // 无活动超时
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"` // 过期会话清理间隔
}

// MonitorConfig 持仓与警报监控配置
type MonitorConfig struct {
	PositionRefreshInterval time.Duration `yaml:"position_refresh_interval" json:"position_refresh_interval"`
	AlertCacheTTL           time.Duration `yaml:"alert_cache_ttl" json:"alert_cache_ttl"`
	TriggerCheckInterval    time.Duration `yaml:"trigger_check_interval" json:"trigger_check_interval"`
	DebugListen             string        `yaml:"debug_listen" json:"debug_listen"` // expvar/pprof 监听地址，留空则不启用
}

// StoreConfig 存储配置
type StoreConfig struct {
	SQLitePath      string `yaml:"sqlite_path" json:"sqlite_path"`
	SecretStorePath string `yaml:"secret_store_path" json:"secret_store_path"`
	SecretStoreKey  string `yaml:"secret_store_key" json:"secret_store_key"` // 32 字节，base64 或 hex
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Config 应用配置
type Config struct {
	Clob     ClobConfig    `yaml:"clob" json:"clob"`
	Trading  TradingConfig `yaml:"trading" json:"trading"`
	Stream   StreamConfig  `yaml:"stream" json:"stream"`
	Vault    VaultConfig   `yaml:"vault" json:"vault"`
	Session  SessionConfig `yaml:"session" json:"session"`
	Monitor  MonitorConfig `yaml:"monitor" json:"monitor"`
	Store    StoreConfig   `yaml:"store" json:"store"`
	Log      LogConfig     `yaml:"log" json:"log"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Clob: ClobConfig{
			Host:     "https://clob.polymarket.com",
			DataHost: "https://data-api.polymarket.com",
			WSHost:   "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:  137,
		},
		Trading: TradingConfig{
			DefaultSlippagePct:  2.0,
			GTCFallbackDiscount: 0.01,
			MaxSellRetries:      3,
			MinTradeUSD:         1,
			MaxTradeUSD:         100,
			FeeRateBase:         0.0156,
			PaperMode:           false,
			PaperBalance:        1000.0,
		},
		Stream: StreamConfig{
			ReconnectMinDelay: 1 * time.Second,
			ReconnectMaxDelay: 30 * time.Second,
			PingInterval:      10 * time.Second,
			HistorySize:       120,
			StaleAfter:        30 * time.Second,
		},
		Vault: VaultConfig{
			PBKDF2Iterations:  480000,
			MinPasswordLength: 8,
		},
		Session: SessionConfig{
			Timeout:       1800 * time.Second,
			SweepInterval: 60 * time.Second,
		},
		Monitor: MonitorConfig{
			PositionRefreshInterval: 10 * time.Second,
			AlertCacheTTL:           5 * time.Second,
			TriggerCheckInterval:    2 * time.Second,
		},
		Store: StoreConfig{
			SQLitePath:      "data/pmbot.db",
			SecretStorePath: "data/secrets",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/pmbot.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Load 加载配置
// 优先级：环境变量 > 配置文件 > 默认值
// filePath 为空时只使用环境变量和默认值
func Load(filePath string) (*Config, error) {
	// .env 文件存在时先加载（不覆盖已有环境变量）
	_ = godotenv.Load()

	cfg := Default()

	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return nil
}

// applyEnvOverrides 应用环境变量覆盖
func applyEnvOverrides(cfg *Config) {
	cfg.Clob.Host = getEnv("CLOB_HOST", cfg.Clob.Host)
	cfg.Clob.DataHost = getEnv("CLOB_DATA_HOST", cfg.Clob.DataHost)
	cfg.Clob.WSHost = getEnv("CLOB_WS_HOST", cfg.Clob.WSHost)
	cfg.Clob.ChainID = parseIntEnv("CLOB_CHAIN_ID", cfg.Clob.ChainID)

	cfg.Trading.DefaultSlippagePct = parseFloatEnv("DEFAULT_SLIPPAGE_PCT", cfg.Trading.DefaultSlippagePct)
	cfg.Trading.GTCFallbackDiscount = parseFloatEnv("GTC_FALLBACK_DISCOUNT", cfg.Trading.GTCFallbackDiscount)
	cfg.Trading.MaxSellRetries = parseIntEnv("MAX_SELL_RETRIES", cfg.Trading.MaxSellRetries)
	cfg.Trading.MinTradeUSD = parseFloatEnv("MIN_TRADE_USD", cfg.Trading.MinTradeUSD)
	cfg.Trading.MaxTradeUSD = parseFloatEnv("MAX_TRADE_USD", cfg.Trading.MaxTradeUSD)
	cfg.Trading.PaperMode = parseBoolEnv("PAPER_MODE", cfg.Trading.PaperMode)

	cfg.Session.Timeout = parseDurationEnv("SESSION_TIMEOUT", cfg.Session.Timeout)
	cfg.Monitor.PositionRefreshInterval = parseDurationEnv("POSITION_REFRESH_INTERVAL", cfg.Monitor.PositionRefreshInterval)
	cfg.Monitor.DebugListen = getEnv("DEBUG_LISTEN", cfg.Monitor.DebugListen)

	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.SecretStorePath = getEnv("SECRET_STORE_PATH", cfg.Store.SecretStorePath)
	cfg.Store.SecretStoreKey = getEnv("SECRET_STORE_KEY", cfg.Store.SecretStoreKey)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Clob.Host == "" {
		return fmt.Errorf("clob.host 不能为空")
	}
	if c.Clob.ChainID != 137 && c.Clob.ChainID != 80002 {
		return fmt.Errorf("clob.chain_id 必须是 137 或 80002")
	}
	if c.Trading.DefaultSlippagePct < 0 || c.Trading.DefaultSlippagePct > 100 {
		return fmt.Errorf("trading.default_slippage_pct 必须在 0 到 100 之间")
	}
	if c.Trading.GTCFallbackDiscount <= 0 {
		return fmt.Errorf("trading.gtc_fallback_discount 必须大于 0")
	}
	if c.Trading.MaxSellRetries < 1 {
		return fmt.Errorf("trading.max_sell_retries 必须至少为 1")
	}
	if c.Trading.MinTradeUSD <= 0 {
		return fmt.Errorf("trading.min_trade_usd 必须大于 0")
	}
	if c.Trading.MaxTradeUSD < c.Trading.MinTradeUSD {
		return fmt.Errorf("trading.max_trade_usd 不能小于 min_trade_usd")
	}
	if c.Stream.HistorySize <= 0 {
		return fmt.Errorf("stream.history_size 必须大于 0")
	}
	if c.Stream.ReconnectMinDelay <= 0 || c.Stream.ReconnectMaxDelay < c.Stream.ReconnectMinDelay {
		return fmt.Errorf("stream 重连延迟配置无效")
	}
	if c.Vault.PBKDF2Iterations < 480000 {
		return fmt.Errorf("vault.pbkdf2_iterations 不能低于 480000")
	}
	if c.Vault.MinPasswordLength < 1 {
		return fmt.Errorf("vault.min_password_length 必须至少为 1")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout 必须大于 0")
	}
	if c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path 不能为空")
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长环境变量
// 支持 Go 时长格式（"30s"）和纯秒数（"1800"）
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
