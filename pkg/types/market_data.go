package types

import "time"

// Ticker is one market-data row as seen by the freshness validator.
type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Dataset is a batch of market-data rows backing a decision.
type Dataset []Ticker

// HasSymbols reports whether every row carries a symbol.
func (d Dataset) HasSymbols() bool {
	for _, row := range d {
		if row.Symbol == "" {
			return false
		}
	}
	return len(d) > 0
}
