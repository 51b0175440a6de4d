// Package config loads the gate's settings from an optional file and
// RISKGATE_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// RISKGATE_REDIS_ADDR for redis.addr.
const EnvPrefix = "RISKGATE"

type Config struct {
	Environment string `mapstructure:"environment"`

	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	KillSwitch  KillSwitchConfig  `mapstructure:"kill_switch"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Gate        GateConfig        `mapstructure:"gate"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Freshness   FreshnessConfig   `mapstructure:"freshness"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type KillSwitchConfig struct {
	Key string `mapstructure:"key"`
}

type BreakerConfig struct {
	Key                 string        `mapstructure:"key"`
	LossThresholdPct    float64       `mapstructure:"loss_threshold_pct"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold"`
	CoolDown            time.Duration `mapstructure:"cool_down"`
	HealthyEvaluations  int           `mapstructure:"healthy_evaluations"`
	AllowHalfOpen       bool          `mapstructure:"allow_half_open"`
}

type ReservationConfig struct {
	Prefix            string        `mapstructure:"prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	QuantityPrecision int32         `mapstructure:"quantity_precision"`
}

// GateConfig holds the position limits and the decision deadlines. Limits
// are decimal strings so that configuration never rounds through float64.
type GateConfig struct {
	PositionLimits       map[string]string `mapstructure:"position_limits"`
	DefaultPositionLimit string            `mapstructure:"default_position_limit"`

	TotalTimeout       time.Duration `mapstructure:"total_timeout"`
	KillSwitchTimeout  time.Duration `mapstructure:"kill_switch_timeout"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	ReservationTimeout time.Duration `mapstructure:"reservation_timeout"`
	StaticTimeout      time.Duration `mapstructure:"static_timeout"`
}

type LimitsConfig struct {
	MaxNotional      string            `mapstructure:"max_notional"`
	SymbolNotional   map[string]string `mapstructure:"symbol_notional"`
	MaxOrderQuantity string            `mapstructure:"max_order_quantity"`
	Blacklist        []string          `mapstructure:"blacklist"`
	ReferencePrices  map[string]string `mapstructure:"reference_prices"`
	OrdersPerSecond  int               `mapstructure:"orders_per_second"`
	Burst            int               `mapstructure:"burst"`
}

type FreshnessConfig struct {
	Mode        string        `mapstructure:"mode"`
	Threshold   time.Duration `mapstructure:"threshold"`
	MinFreshPct float64       `mapstructure:"min_fresh_pct"`
}

type AuditConfig struct {
	File        string `mapstructure:"file"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Buffer      int    `mapstructure:"buffer"`
}

type ExchangeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	Testnet      bool          `mapstructure:"testnet"`
	Demo         bool          `mapstructure:"demo"`
	Category     string        `mapstructure:"category"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	Symbols      []string      `mapstructure:"symbols"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID string `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 64)
	v.SetDefault("redis.dial_timeout", time.Second)
	v.SetDefault("redis.read_timeout", 50*time.Millisecond)
	v.SetDefault("redis.write_timeout", 50*time.Millisecond)

	v.SetDefault("kill_switch.key", "riskgate:kill_switch")

	v.SetDefault("breaker.key", "riskgate:breaker")
	v.SetDefault("breaker.loss_threshold_pct", 3.0)
	v.SetDefault("breaker.volatility_threshold", 0.05)
	v.SetDefault("breaker.cool_down", 5*time.Minute)
	v.SetDefault("breaker.healthy_evaluations", 3)
	v.SetDefault("breaker.allow_half_open", false)

	v.SetDefault("reservation.prefix", "riskgate:")
	v.SetDefault("reservation.ttl", time.Minute)
	v.SetDefault("reservation.timeout", 5*time.Millisecond)
	v.SetDefault("reservation.reap_interval", 30*time.Second)
	v.SetDefault("reservation.quantity_precision", 0)

	v.SetDefault("gate.position_limits", map[string]string{})
	v.SetDefault("gate.default_position_limit", "0")
	v.SetDefault("gate.total_timeout", 8*time.Millisecond)
	v.SetDefault("gate.kill_switch_timeout", 2*time.Millisecond)
	v.SetDefault("gate.breaker_timeout", 2*time.Millisecond)
	v.SetDefault("gate.reservation_timeout", 5*time.Millisecond)
	v.SetDefault("gate.static_timeout", time.Millisecond)

	v.SetDefault("limits.max_notional", "0")
	v.SetDefault("limits.symbol_notional", map[string]string{})
	v.SetDefault("limits.max_order_quantity", "0")
	v.SetDefault("limits.blacklist", []string{})
	v.SetDefault("limits.reference_prices", map[string]string{})
	v.SetDefault("limits.orders_per_second", 0)
	v.SetDefault("limits.burst", 0)

	v.SetDefault("freshness.mode", "latest")
	v.SetDefault("freshness.threshold", 5*time.Minute)
	v.SetDefault("freshness.min_fresh_pct", 0.9)

	v.SetDefault("audit.file", "")
	v.SetDefault("audit.postgres_dsn", "")
	v.SetDefault("audit.buffer", 1024)

	v.SetDefault("exchange.enabled", false)
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.demo", false)
	v.SetDefault("exchange.category", "linear")
	v.SetDefault("exchange.sync_interval", 30*time.Second)
	v.SetDefault("exchange.symbols", []string{})

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
}

// Load reads path (yaml, json or toml by extension) when given, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsedPositionLimits returns the per-symbol limits keyed by upper-case symbol.
func (g GateConfig) ParsedPositionLimits() (map[string]decimal.Decimal, error) {
	return decimalMap("gate.position_limits", g.PositionLimits)
}

// DefaultLimit returns the limit for symbols without an entry.
func (g GateConfig) DefaultLimit() (decimal.Decimal, error) {
	return parseDecimal("gate.default_position_limit", g.DefaultPositionLimit)
}

func decimalMap(key string, in map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(in))
	for symbol, raw := range in {
		d, err := parseDecimal(key+"."+symbol, raw)
		if err != nil {
			return nil, err
		}
		out[strings.ToUpper(strings.TrimSpace(symbol))] = d
	}
	return out, nil
}

func parseDecimal(key, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", key, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
