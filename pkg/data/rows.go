package data

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// header resolves column positions from a header row.
type header struct {
	timestamp, symbol, price, volume int
}

func resolveHeader(row []string, mapping ColumnMapping) (header, error) {
	index := make(map[string]int, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	find := func(aliases []string) int {
		for _, alias := range aliases {
			if i, ok := index[strings.ToLower(alias)]; ok {
				return i
			}
		}
		return -1
	}

	h := header{
		timestamp: find(mapping.Timestamp),
		symbol:    find(mapping.Symbol),
		price:     find(mapping.Price),
		volume:    find(mapping.Volume),
	}
	if h.timestamp < 0 {
		return h, fmt.Errorf("no timestamp column in header %v", row)
	}
	return h, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseRow converts one data row. line is 1-based for error messages.
func parseRow(row []string, h header, mapping ColumnMapping, line int) (types.Ticker, error) {
	ts, err := parseTimestamp(cell(row, h.timestamp), mapping.DateFormats)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("line %d: %w", line, err)
	}

	t := types.Ticker{
		Symbol:    strings.ToUpper(cell(row, h.symbol)),
		Timestamp: ts,
	}
	if v := cell(row, h.price); v != "" {
		if t.Price, err = strconv.ParseFloat(v, 64); err != nil {
			return types.Ticker{}, fmt.Errorf("line %d: invalid price %q", line, v)
		}
	}
	if v := cell(row, h.volume); v != "" {
		if t.Volume, err = strconv.ParseFloat(v, 64); err != nil {
			return types.Ticker{}, fmt.Errorf("line %d: invalid volume %q", line, v)
		}
	}
	return t, nil
}

func parseTimestamp(v string, formats []string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		// unix seconds below 1e11, milliseconds above
		if math.Abs(n) >= 1e11 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range formats {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}
