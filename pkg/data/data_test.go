package data

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCSVProvider_Read(t *testing.T) {
	input := `Symbol,Timestamp,Close,Volume
btcusdt,2024-03-01T14:00:00Z,61000.5,12.5
ETHUSDT,2024-03-01 14:00:30,3400,
SOLUSDT,1709301600,130.2,900
XRPUSDT,1709301600000,0.61,1000
`
	data, err := NewCSVProvider().Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, data, 4)

	assert.Equal(t, "BTCUSDT", data[0].Symbol)
	assert.Equal(t, 61000.5, data[0].Price)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 30, 0, time.UTC), data[1].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), data[2].Timestamp)
	assert.Equal(t, data[2].Timestamp, data[3].Timestamp)
	assert.True(t, data.HasSymbols())
}

func TestCSVProvider_WithoutSymbolColumn(t *testing.T) {
	data, err := NewCSVProvider().Read(strings.NewReader("time,price\n2024-03-01,10\n"))
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.False(t, data.HasSymbols())
}

func TestCSVProvider_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no timestamp column", "symbol,price\nAAPL,1\n", "no timestamp column"},
		{"bad timestamp", "timestamp,symbol\nyesterday,AAPL\n", "line 2"},
		{"bad price", "timestamp,price\n2024-03-01,abc\n", "invalid price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVProvider().Read(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCSVProvider_Empty(t *testing.T) {
	data, err := NewCSVProvider().Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestXLSXProvider_LoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"timestamp", "symbol", "price"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"2024-03-01T14:00:00Z", "aapl", "187.25"}))
	// 2024-03-01 12:00 as a spreadsheet serial
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"45352.5", "MSFT", "410"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	data, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "AAPL", data[0].Symbol)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), data[0].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), data[1].Timestamp)
	assert.Equal(t, 410.0, data[1].Price)
}

func TestProviderFor(t *testing.T) {
	p, err := ProviderFor("ticks.CSV")
	require.NoError(t, err)
	assert.Equal(t, "CSV Provider", p.GetName())

	p, err = ProviderFor("ticks.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "XLSX Provider", p.GetName())

	_, err = ProviderFor("ticks.parquet")
	assert.Error(t, err)
}
