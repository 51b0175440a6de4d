package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "riskgate:kill_switch", cfg.KillSwitch.Key)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.CoolDown)
	assert.Equal(t, time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, 8*time.Millisecond, cfg.Gate.TotalTimeout)
	assert.Equal(t, "latest", cfg.Freshness.Mode)
	assert.False(t, cfg.Breaker.AllowHalfOpen)

	limit, err := cfg.Gate.DefaultLimit()
	require.NoError(t, err)
	assert.True(t, limit.IsZero())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeFile(t, "riskgate.yaml", `
redis:
  addr: redis-a:6379
breaker:
  cool_down: 90s
reservation:
  quantity_precision: 3
gate:
  position_limits:
    BTCUSDT: 0.5
    ethusdt: "12.25"
  default_position_limit: "1"
limits:
  max_notional: "250000"
  blacklist: [LUNAUSDT]
  reference_prices:
    BTCUSDT: "61000"
`)
	t.Setenv("RISKGATE_REDIS_ADDR", "redis-b:6380")
	t.Setenv("RISKGATE_GATE_TOTAL_TIMEOUT", "20ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis-b:6380", cfg.Redis.Addr)
	assert.Equal(t, 20*time.Millisecond, cfg.Gate.TotalTimeout)
	assert.Equal(t, 90*time.Second, cfg.Breaker.CoolDown)
	assert.EqualValues(t, 3, cfg.Reservation.QuantityPrecision)

	limits, err := cfg.Gate.ParsedPositionLimits()
	require.NoError(t, err)
	assert.True(t, limits["BTCUSDT"].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, limits["ETHUSDT"].Equal(decimal.RequireFromString("12.25")))

	static, err := cfg.Limits.Build()
	require.NoError(t, err)
	assert.True(t, static.MaxNotional.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, []string{"LUNAUSDT"}, static.Blacklist)
	assert.True(t, static.ReferencePrices["BTCUSDT"].Equal(decimal.NewFromInt(61000)))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"same keys":           func(c *Config) { c.Breaker.Key = c.KillSwitch.Key },
		"zero ttl":            func(c *Config) { c.Reservation.TTL = 0 },
		"precision too large": func(c *Config) { c.Reservation.QuantityPrecision = 13 },
		"bad limit":           func(c *Config) { c.Gate.PositionLimits = map[string]string{"BTCUSDT": "lots"} },
		"negative limit":      func(c *Config) { c.Gate.DefaultPositionLimit = "-1" },
		"bad notional":        func(c *Config) { c.Limits.MaxNotional = "1e" },
		"unknown mode":        func(c *Config) { c.Freshness.Mode = "newest" },
		"fresh pct":           func(c *Config) { c.Freshness.MinFreshPct = 1.5 },
		"exchange creds":      func(c *Config) { c.Exchange.Enabled = true },
		"half telegram":       func(c *Config) { c.Telegram.Token = "123:abc" },
		"loss threshold":      func(c *Config) { c.Breaker.LossThresholdPct = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
