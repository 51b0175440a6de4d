// Package orderid derives deterministic client order ids used by brokers for
// deduplication. Two orders identical in every economic field on the same UTC
// date share an id; any difference changes it.
package orderid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	gateerrors "github.com/ducminhle1904/risk-gate/internal/errors"
	"github.com/ducminhle1904/risk-gate/pkg/types"
)

const (
	component = "orderid"

	// Prefix starts every generated id.
	Prefix = "rg-"
	// DateLayout is the layout of the as-of date.
	DateLayout = "2006-01-02"

	hexLength = 32
	absent    = "-"
)

// ClientOrderID is a generated id, Prefix followed by 32 lowercase hex chars.
type ClientOrderID string

func (id ClientOrderID) String() string { return string(id) }

// Valid reports whether id has the generated shape.
func (id ClientOrderID) Valid() bool {
	s := string(id)
	if !strings.HasPrefix(s, Prefix) || len(s) != len(Prefix)+hexLength {
		return false
	}
	_, err := hex.DecodeString(s[len(Prefix):])
	return err == nil && strings.ToLower(s) == s
}

// Generator produces ids. The clock is only consulted for candidates without
// an as-of time.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a generator. A nil clock means time.Now.
func NewGenerator(clock func() time.Time) *Generator {
	if clock == nil {
		clock = time.Now
	}
	return &Generator{now: clock}
}

// Generate derives the id of c on the UTC date of c.AsOf, or of the clock when
// AsOf is zero.
func (g *Generator) Generate(c types.OrderCandidate) (ClientOrderID, error) {
	asOf := c.AsOf
	if asOf.IsZero() {
		asOf = g.now()
	}
	return generate(c, asOf.UTC().Format(DateLayout))
}

// GenerateFor derives the id of c for an explicit YYYY-MM-DD date.
// c.AsOf is ignored.
func (g *Generator) GenerateFor(c types.OrderCandidate, asOfDate string) (ClientOrderID, error) {
	return GenerateFor(c, asOfDate)
}

// GenerateFor is the package-level form of Generator.GenerateFor.
func GenerateFor(c types.OrderCandidate, asOfDate string) (ClientOrderID, error) {
	date, err := time.Parse(DateLayout, strings.TrimSpace(asOfDate))
	if err != nil {
		return "", gateerrors.NewIDGenerationError(component, "GenerateFor", "unparseable as-of date "+strconv.Quote(asOfDate))
	}
	return generate(c, date.Format(DateLayout))
}

// UTCDate returns the trading date of t.
func UTCDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func generate(c types.OrderCandidate, date string) (ClientOrderID, error) {
	fields, err := canonical(c)
	if err != nil {
		return "", err
	}
	fields = append(fields, date)

	var b strings.Builder
	for _, f := range fields {
		// length-prefixed so no two field lists share an encoding
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return ClientOrderID(Prefix + hex.EncodeToString(sum[:])[:hexLength]), nil
}

func canonical(c types.OrderCandidate) ([]string, error) {
	symbol := c.NormalizedSymbol()
	side := types.OrderSide(strings.ToLower(strings.TrimSpace(string(c.Side))))
	orderType := types.OrderType(strings.ToLower(strings.TrimSpace(string(c.Type))))
	tif := types.TimeInForce(strings.ToUpper(strings.TrimSpace(string(c.TimeInForce))))

	switch {
	case symbol == "":
		return nil, gateerrors.NewIDGenerationError(component, "Generate", "symbol is required")
	case !side.Valid():
		return nil, gateerrors.NewIDGenerationError(component, "Generate", "invalid side "+strconv.Quote(string(c.Side)))
	case !orderType.Valid():
		return nil, gateerrors.NewIDGenerationError(component, "Generate", "invalid order type "+strconv.Quote(string(c.Type)))
	case !tif.Valid():
		return nil, gateerrors.NewIDGenerationError(component, "Generate", "invalid time in force "+strconv.Quote(string(c.TimeInForce)))
	case !c.Quantity.IsPositive():
		return nil, gateerrors.NewIDGenerationError(component, "Generate", "quantity must be positive")
	}

	return []string{
		symbol,
		string(side),
		c.Quantity.String(),
		string(orderType),
		string(tif),
		price(c.LimitPrice),
		price(c.StopPrice),
		strings.TrimSpace(c.StrategyID),
	}, nil
}

func price(p decimal.NullDecimal) string {
	if !p.Valid {
		return absent
	}
	return p.Decimal.String()
}
