package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the execution style of an order
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce represents how long an order stays working
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderCandidate is an order submitted to the gate. It is passed by value and
// never modified once submitted.
type OrderCandidate struct {
	Symbol      string              `json:"symbol"`
	Side        OrderSide           `json:"side"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Type        OrderType           `json:"order_type"`
	TimeInForce TimeInForce         `json:"time_in_force"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	StrategyID  string              `json:"strategy_id"`
	AsOf        time.Time           `json:"as_of,omitempty"`
}

// NormalizedSymbol returns the symbol trimmed and upper-cased.
func (o OrderCandidate) NormalizedSymbol() string {
	return strings.ToUpper(strings.TrimSpace(o.Symbol))
}

// Valid reports whether the side is known.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// Valid reports whether the order type is known.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// NeedsLimitPrice reports whether the order type requires a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether the order type requires a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// Valid reports whether the time-in-force is known.
func (t TimeInForce) Valid() bool {
	switch t {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return true
	}
	return false
}
