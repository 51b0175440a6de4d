package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)}
}

func limitOrder() types.OrderCandidate {
	return types.OrderCandidate{
		Symbol:      "AAPL",
		Side:        types.OrderSideBuy,
		Quantity:    decimal.NewFromInt(100),
		Type:        types.OrderTypeLimit,
		TimeInForce: types.TimeInForceDay,
		LimitPrice:  decimal.NewNullDecimal(decimal.NewFromInt(180)),
		StrategyID:  "s1",
	}
}

func TestValidateCandidate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		mutate func(*types.OrderCandidate)
		valid  bool
	}{
		{"valid limit", func(o *types.OrderCandidate) {}, true},
		{"valid market", func(o *types.OrderCandidate) {
			o.Type = types.OrderTypeMarket
			o.LimitPrice = decimal.NullDecimal{}
		}, true},
		{"share class symbol", func(o *types.OrderCandidate) { o.Symbol = "BRK.B" }, true},
		{"empty symbol", func(o *types.OrderCandidate) { o.Symbol = "" }, false},
		{"symbol with space", func(o *types.OrderCandidate) { o.Symbol = "AA PL" }, false},
		{"bad side", func(o *types.OrderCandidate) { o.Side = "short" }, false},
		{"bad type", func(o *types.OrderCandidate) { o.Type = "trailing" }, false},
		{"bad tif", func(o *types.OrderCandidate) { o.TimeInForce = "GTX" }, false},
		{"zero quantity", func(o *types.OrderCandidate) { o.Quantity = decimal.Zero }, false},
		{"limit without price", func(o *types.OrderCandidate) { o.LimitPrice = decimal.NullDecimal{} }, false},
		{"stop without stop price", func(o *types.OrderCandidate) {
			o.Type = types.OrderTypeStop
			o.LimitPrice = decimal.NullDecimal{}
		}, false},
		{"market with limit price", func(o *types.OrderCandidate) { o.Type = types.OrderTypeMarket }, false},
		{"missing strategy", func(o *types.OrderCandidate) { o.StrategyID = " " }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := limitOrder()
			tt.mutate(&o)
			r := v.ValidateCandidate(o)
			assert.Equal(t, tt.valid, r.Valid, r.Message)
			if !tt.valid {
				assert.Equal(t, CodeInvalidOrder, r.Code)
			}
		})
	}
}

func TestLimits_Check(t *testing.T) {
	config := LimitsConfig{
		MaxNotional:      decimal.NewFromInt(50_000),
		SymbolNotional:   map[string]decimal.Decimal{"TSLA": decimal.NewFromInt(10_000)},
		MaxOrderQuantity: decimal.NewFromInt(1_000),
		Blacklist:        []string{" gme "},
		ReferencePrices:  map[string]decimal.Decimal{"MSFT": decimal.NewFromInt(400)},
	}

	tests := []struct {
		name   string
		mutate func(*types.OrderCandidate)
		code   string
	}{
		{"within limits", func(o *types.OrderCandidate) {}, ""},
		{"blacklisted", func(o *types.OrderCandidate) { o.Symbol = "GME" }, CodeSymbolBlacklisted},
		{"non-positive price", func(o *types.OrderCandidate) {
			o.LimitPrice = decimal.NewNullDecimal(decimal.NewFromInt(-1))
		}, CodeInvalidPrice},
		{"absurd price", func(o *types.OrderCandidate) {
			o.LimitPrice = decimal.NewNullDecimal(decimal.New(1, 11))
		}, CodeInvalidPrice},
		{"quantity over max", func(o *types.OrderCandidate) { o.Quantity = decimal.NewFromInt(1_001) }, CodeInvalidQuantity},
		{"notional over max", func(o *types.OrderCandidate) { o.Quantity = decimal.NewFromInt(300) }, CodeMaxNotionalExceeded},
		{"per-symbol notional", func(o *types.OrderCandidate) { o.Symbol = "TSLA" }, CodeMaxNotionalExceeded},
		{"market priced from reference", func(o *types.OrderCandidate) {
			o.Symbol = "MSFT"
			o.Type = types.OrderTypeMarket
			o.LimitPrice = decimal.NullDecimal{}
		}, ""},
		{"market without reference", func(o *types.OrderCandidate) {
			o.Type = types.OrderTypeMarket
			o.LimitPrice = decimal.NullDecimal{}
		}, CodeInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := limitOrder()
			tt.mutate(&o)
			r := NewLimits(config, nil).Check(o)
			if tt.code == "" {
				assert.True(t, r.Valid, r.Message)
				return
			}
			assert.False(t, r.Valid)
			assert.Equal(t, tt.code, r.Code)
		})
	}
}

func TestLimits_RateLimitPerStrategy(t *testing.T) {
	clock := newClock()
	limits := NewLimits(LimitsConfig{OrdersPerSecond: 2}, clock.Now)

	order := limitOrder()
	assert.True(t, limits.Check(order).Valid)
	assert.True(t, limits.Check(order).Valid)
	r := limits.Check(order)
	assert.False(t, r.Valid)
	assert.Equal(t, CodeRateLimited, r.Code)

	other := limitOrder()
	other.StrategyID = "s2"
	assert.True(t, limits.Check(other).Valid)

	clock.Advance(time.Second)
	assert.True(t, limits.Check(order).Valid)
	assert.Len(t, limits.RateStats(), 2)
}

func TestLimits_RejectedOrdersDoNotSpendTokens(t *testing.T) {
	limits := NewLimits(LimitsConfig{OrdersPerSecond: 1, Blacklist: []string{"GME"}}, newClock().Now)

	banned := limitOrder()
	banned.Symbol = "GME"
	assert.Equal(t, CodeSymbolBlacklisted, limits.Check(banned).Code)
	assert.True(t, limits.Check(limitOrder()).Valid)
}

func TestRateLimiter_Refill(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter("s1", 3, 1, clock.Now)

	assert.True(t, rl.AllowN(3))
	assert.False(t, rl.Allow())

	clock.Advance(1500 * time.Millisecond)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	// the half second carried over counts toward the next token
	clock.Advance(500 * time.Millisecond)
	assert.True(t, rl.Allow())

	clock.Advance(time.Minute)
	assert.Equal(t, 3, rl.GetStats().Tokens)
}

func TestCallBreaker(t *testing.T) {
	clock := newClock()
	cb := NewCallBreaker("bybit", CallBreakerConfig{FailureThreshold: 2, Timeout: 10 * time.Second}, clock.Now, nil)
	ctx := context.Background()
	boom := errors.New("boom")
	failing := func(context.Context) error { return boom }
	healthy := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Call(ctx, failing), boom)
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(ctx, failing), boom)
	assert.Equal(t, CircuitOpen, cb.GetState())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Call(ctx, healthy))
	assert.Equal(t, CircuitClosed, cb.GetState())

	// a failure while probing reopens immediately
	require.ErrorIs(t, cb.Call(ctx, failing), boom)
	require.ErrorIs(t, cb.Call(ctx, failing), boom)
	clock.Advance(10 * time.Second)
	require.ErrorIs(t, cb.Call(ctx, failing), boom)
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.Equal(t, uint32(3), cb.GetStats().Failures)
}
