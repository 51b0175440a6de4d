package safety

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// Codes of failed validations. They double as gate rejection reasons.
const (
	CodeInvalidOrder        = "invalid_order"
	CodeInvalidPrice        = "invalid_price"
	CodeInvalidQuantity     = "invalid_quantity"
	CodeMaxNotionalExceeded = "max_notional_exceeded"
	CodeSymbolBlacklisted   = "symbol_blacklisted"
	CodeRateLimited         = "rate_limited"
)

var (
	minReasonablePrice    = decimal.New(1, -8)  // 1 satoshi
	maxReasonablePrice    = decimal.New(1, 10)  // $10 billion per unit
	maxReasonableQuantity = decimal.New(1, 12)
	maxSymbolLength       = 20
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func ok() ValidationResult { return ValidationResult{Valid: true} }

func fail(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validator provides structural order validation
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCandidate checks that an order is well formed: known enums,
// positive quantity and the prices its order type needs.
func (v *Validator) ValidateCandidate(c types.OrderCandidate) ValidationResult {
	if r := v.ValidateSymbol(c.Symbol); !r.Valid {
		return r
	}
	symbol := c.NormalizedSymbol()

	if !c.Side.Valid() {
		return fail(CodeInvalidOrder, "invalid side %q for %s", c.Side, symbol)
	}
	if !c.Type.Valid() {
		return fail(CodeInvalidOrder, "invalid order type %q for %s", c.Type, symbol)
	}
	if !c.TimeInForce.Valid() {
		return fail(CodeInvalidOrder, "invalid time in force %q for %s", c.TimeInForce, symbol)
	}
	if !c.Quantity.IsPositive() {
		return fail(CodeInvalidOrder, "invalid quantity %s for %s: quantity must be positive", c.Quantity, symbol)
	}
	if c.Type.NeedsLimitPrice() && !c.LimitPrice.Valid {
		return fail(CodeInvalidOrder, "%s order for %s requires a limit price", c.Type, symbol)
	}
	if c.Type.NeedsStopPrice() && !c.StopPrice.Valid {
		return fail(CodeInvalidOrder, "%s order for %s requires a stop price", c.Type, symbol)
	}
	if !c.Type.NeedsLimitPrice() && c.LimitPrice.Valid {
		return fail(CodeInvalidOrder, "%s order for %s must not carry a limit price", c.Type, symbol)
	}
	if strings.TrimSpace(c.StrategyID) == "" {
		return fail(CodeInvalidOrder, "strategy id is required for %s", symbol)
	}
	return ok()
}

// ValidatePrice validates a price value for trading
func (v *Validator) ValidatePrice(price decimal.Decimal, symbol string) ValidationResult {
	if !price.IsPositive() {
		return fail(CodeInvalidPrice, "invalid price %s for %s: price must be positive", price, symbol)
	}
	if price.GreaterThan(maxReasonablePrice) {
		return fail(CodeInvalidPrice, "suspicious price %s for %s: exceeds reasonable bounds", price, symbol)
	}
	if price.LessThan(minReasonablePrice) {
		return fail(CodeInvalidPrice, "suspicious price %s for %s: below reasonable bounds", price, symbol)
	}
	return ok()
}

// ValidateQuantity validates a quantity against sanity bounds and an optional
// per-order maximum (zero disables it).
func (v *Validator) ValidateQuantity(quantity, maxQuantity decimal.Decimal, symbol string) ValidationResult {
	if !quantity.IsPositive() {
		return fail(CodeInvalidQuantity, "invalid quantity %s for %s: quantity must be positive", quantity, symbol)
	}
	if quantity.GreaterThan(maxReasonableQuantity) {
		return fail(CodeInvalidQuantity, "suspicious quantity %s for %s: exceeds reasonable bounds", quantity, symbol)
	}
	if maxQuantity.IsPositive() && quantity.GreaterThan(maxQuantity) {
		return fail(CodeInvalidQuantity, "quantity %s for %s exceeds maximum %s", quantity, symbol, maxQuantity)
	}
	return ok()
}

// ValidateOrderValue checks price times quantity against maxNotional.
func (v *Validator) ValidateOrderValue(price, quantity, maxNotional decimal.Decimal, symbol string) ValidationResult {
	if r := v.ValidatePrice(price, symbol); !r.Valid {
		return r
	}
	if !maxNotional.IsPositive() {
		return ok()
	}
	notional := price.Mul(quantity)
	if notional.GreaterThan(maxNotional) {
		return fail(CodeMaxNotionalExceeded, "order value %s for %s exceeds maximum notional %s",
			notional.StringFixed(2), symbol, maxNotional)
	}
	return ok()
}

// ValidateSymbol validates a trading symbol format
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fail(CodeInvalidOrder, "symbol cannot be empty")
	}
	if len(symbol) > maxSymbolLength {
		return fail(CodeInvalidOrder, "symbol '%s' too long: maximum %d characters allowed", symbol, maxSymbolLength)
	}

	// alphanumeric plus the separators used by share classes and pairs
	for _, char := range symbol {
		switch {
		case char >= 'A' && char <= 'Z', char >= 'a' && char <= 'z', char >= '0' && char <= '9':
		case char == '.' || char == '-' || char == '/' || char == '_':
		default:
			return fail(CodeInvalidOrder, "symbol '%s' contains invalid characters", symbol)
		}
	}
	return ok()
}
