package config

import (
	"fmt"
	"strings"

	"github.com/ducminhle1904/risk-gate/internal/freshness"
	"github.com/ducminhle1904/risk-gate/internal/safety"
)

// MaxQuantityPrecision keeps scaled quantities well inside int64.
const MaxQuantityPrecision = 12

// Validate checks ranges and that every decimal setting parses.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.KillSwitch.Key == "" || c.Breaker.Key == "" {
		return fmt.Errorf("kill_switch.key and breaker.key are required")
	}
	if c.KillSwitch.Key == c.Breaker.Key {
		return fmt.Errorf("kill_switch.key and breaker.key must differ, both are %q", c.KillSwitch.Key)
	}

	if c.Breaker.LossThresholdPct <= 0 || c.Breaker.LossThresholdPct > 100 {
		return fmt.Errorf("breaker.loss_threshold_pct must be within (0, 100], got: %.4f", c.Breaker.LossThresholdPct)
	}
	if c.Breaker.VolatilityThreshold <= 0 {
		return fmt.Errorf("breaker.volatility_threshold must be positive, got: %.4f", c.Breaker.VolatilityThreshold)
	}
	if c.Breaker.CoolDown <= 0 {
		return fmt.Errorf("breaker.cool_down must be positive, got: %s", c.Breaker.CoolDown)
	}
	if c.Breaker.HealthyEvaluations <= 0 {
		return fmt.Errorf("breaker.healthy_evaluations must be positive, got: %d", c.Breaker.HealthyEvaluations)
	}

	if c.Reservation.TTL <= 0 {
		return fmt.Errorf("reservation.ttl must be positive, got: %s", c.Reservation.TTL)
	}
	if c.Reservation.QuantityPrecision < 0 || c.Reservation.QuantityPrecision > MaxQuantityPrecision {
		return fmt.Errorf("reservation.quantity_precision must be between 0 and %d, got: %d",
			MaxQuantityPrecision, c.Reservation.QuantityPrecision)
	}

	if c.Gate.TotalTimeout <= 0 {
		return fmt.Errorf("gate.total_timeout must be positive, got: %s", c.Gate.TotalTimeout)
	}
	if _, err := c.Gate.ParsedPositionLimits(); err != nil {
		return err
	}
	if _, err := c.Gate.DefaultLimit(); err != nil {
		return err
	}
	if _, err := c.Limits.Build(); err != nil {
		return err
	}

	if _, err := freshness.ParseMode(c.Freshness.Mode); err != nil {
		return fmt.Errorf("freshness.mode: %w", err)
	}
	if c.Freshness.Threshold <= 0 {
		return fmt.Errorf("freshness.threshold must be positive, got: %s", c.Freshness.Threshold)
	}
	if c.Freshness.MinFreshPct < 0 || c.Freshness.MinFreshPct > 1 {
		return fmt.Errorf("freshness.min_fresh_pct must be between 0 and 1, got: %.4f", c.Freshness.MinFreshPct)
	}

	if c.Exchange.Enabled && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required when exchange.enabled is set")
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.token and telegram.chat_id must be set together")
	}
	return nil
}

// Build converts the static limits to their runtime form.
func (l LimitsConfig) Build() (safety.LimitsConfig, error) {
	maxNotional, err := parseDecimal("limits.max_notional", l.MaxNotional)
	if err != nil {
		return safety.LimitsConfig{}, err
	}
	maxQty, err := parseDecimal("limits.max_order_quantity", l.MaxOrderQuantity)
	if err != nil {
		return safety.LimitsConfig{}, err
	}
	symbolNotional, err := decimalMap("limits.symbol_notional", l.SymbolNotional)
	if err != nil {
		return safety.LimitsConfig{}, err
	}
	prices, err := decimalMap("limits.reference_prices", l.ReferencePrices)
	if err != nil {
		return safety.LimitsConfig{}, err
	}
	if l.OrdersPerSecond < 0 || l.Burst < 0 {
		return safety.LimitsConfig{}, fmt.Errorf("limits.orders_per_second and limits.burst must not be negative")
	}

	return safety.LimitsConfig{
		MaxNotional:      maxNotional,
		SymbolNotional:   symbolNotional,
		MaxOrderQuantity: maxQty,
		Blacklist:        l.Blacklist,
		ReferencePrices:  prices,
		OrdersPerSecond:  l.OrdersPerSecond,
		Burst:            l.Burst,
	}, nil
}
