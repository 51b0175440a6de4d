package safety

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// LimitsConfig holds the static per-order limits. Zero values disable a limit.
type LimitsConfig struct {
	MaxNotional      decimal.Decimal
	SymbolNotional   map[string]decimal.Decimal // overrides MaxNotional
	MaxOrderQuantity decimal.Decimal
	Blacklist        []string
	// ReferencePrices price market orders for the notional check.
	ReferencePrices map[string]decimal.Decimal
	OrdersPerSecond int // per strategy
	Burst           int
}

// Limits evaluates the static checks that run after the reservation.
type Limits struct {
	config    LimitsConfig
	validator *Validator
	blacklist map[string]struct{}
	rates     *RateLimiterManager
}

// NewLimits creates the static limit checks. A nil clock means time.Now.
func NewLimits(config LimitsConfig, clock func() time.Time) *Limits {
	l := &Limits{
		config:    config,
		validator: NewValidator(),
		blacklist: make(map[string]struct{}, len(config.Blacklist)),
	}
	for _, symbol := range config.Blacklist {
		l.blacklist[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
	}
	if config.OrdersPerSecond > 0 {
		burst := config.Burst
		if burst < config.OrdersPerSecond {
			burst = config.OrdersPerSecond
		}
		l.rates = NewRateLimiterManager(burst, config.OrdersPerSecond, clock)
	}
	return l
}

// Check runs every static limit in order. The rate limit is consumed last so
// that orders rejected for other reasons do not spend tokens.
func (l *Limits) Check(c types.OrderCandidate) ValidationResult {
	symbol := c.NormalizedSymbol()

	if _, banned := l.blacklist[symbol]; banned {
		return fail(CodeSymbolBlacklisted, "symbol %s is blacklisted", symbol)
	}

	for _, p := range []decimal.NullDecimal{c.LimitPrice, c.StopPrice} {
		if !p.Valid {
			continue
		}
		if r := l.validator.ValidatePrice(p.Decimal, symbol); !r.Valid {
			return r
		}
	}

	if r := l.validator.ValidateQuantity(c.Quantity, l.config.MaxOrderQuantity, symbol); !r.Valid {
		return r
	}

	if maxNotional := l.maxNotional(symbol); maxNotional.IsPositive() {
		price, found := l.notionalPrice(c, symbol)
		if !found {
			return fail(CodeInvalidPrice, "no price available to value %s order for %s", c.Type, symbol)
		}
		if r := l.validator.ValidateOrderValue(price, c.Quantity, maxNotional, symbol); !r.Valid {
			return r
		}
	}

	if l.rates != nil {
		key := strings.TrimSpace(c.StrategyID)
		if !l.rates.GetOrCreate(key).Allow() {
			return fail(CodeRateLimited, "strategy %s exceeded %d orders per second", key, l.config.OrdersPerSecond)
		}
	}
	return ok()
}

// RateStats exposes the per-strategy limiter state.
func (l *Limits) RateStats() []RateLimiterStats {
	if l.rates == nil {
		return nil
	}
	return l.rates.GetStats()
}

func (l *Limits) maxNotional(symbol string) decimal.Decimal {
	if v, ok := l.config.SymbolNotional[symbol]; ok {
		return v
	}
	return l.config.MaxNotional
}

// notionalPrice uses the worst price the order can trade at that is known
// up front: limit, then stop, then the reference price.
func (l *Limits) notionalPrice(c types.OrderCandidate, symbol string) (decimal.Decimal, bool) {
	switch {
	case c.LimitPrice.Valid:
		return c.LimitPrice.Decimal, true
	case c.StopPrice.Valid:
		return c.StopPrice.Decimal, true
	}
	price, ok := l.config.ReferencePrices[symbol]
	return price, ok
}
