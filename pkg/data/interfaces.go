package data

import (
	"time"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// DatasetProvider loads a market-data batch for freshness validation.
type DatasetProvider interface {
	// LoadDataset loads every row of source
	LoadDataset(source string) (types.Dataset, error)

	// GetName returns the name of the data provider
	GetName() string
}

// ColumnMapping names the header columns of a tabular source. Lookups are
// case-insensitive and the first alias present wins.
type ColumnMapping struct {
	Timestamp []string
	Symbol    []string
	Price     []string
	Volume    []string
	// DateFormats are tried in order for string timestamps; numeric values are
	// unix seconds or milliseconds.
	DateFormats []string
}

// DefaultColumns matches exchange exports and the freshness fixtures.
var DefaultColumns = ColumnMapping{
	Timestamp: []string{"timestamp", "time", "datetime", "date"},
	Symbol:    []string{"symbol", "ticker", "instrument"},
	Price:     []string{"price", "close", "last"},
	Volume:    []string{"volume", "qty"},
	DateFormats: []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	},
}
