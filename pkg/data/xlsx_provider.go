package data

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// excelSerialLimit separates spreadsheet serial dates from unix timestamps.
const excelSerialLimit = 1e6

// XLSXProvider implements DatasetProvider for Excel workbooks. Rows are read
// from the first sheet unless Sheet is set.
type XLSXProvider struct {
	columns ColumnMapping
	Sheet   string
}

// NewXLSXProvider creates a new Excel data provider with the default columns
func NewXLSXProvider() *XLSXProvider {
	return &XLSXProvider{columns: DefaultColumns}
}

// GetName returns the name of the data provider
func (p *XLSXProvider) GetName() string {
	return "XLSX Provider"
}

// LoadDataset loads a dataset from an Excel workbook.
func (p *XLSXProvider) LoadDataset(source string) (types.Dataset, error) {
	f, err := excelize.OpenFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	return p.Read(f)
}

// Read parses rows from an open workbook.
func (p *XLSXProvider) Read(f *excelize.File) (types.Dataset, error) {
	sheet := p.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("no sheets found in Excel file")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	if len(rows) == 0 {
		return types.Dataset{}, nil
	}

	h, err := resolveHeader(rows[0], p.columns)
	if err != nil {
		return nil, err
	}

	data := make(types.Dataset, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(strings.Join(row, "")) == 0 {
			continue
		}
		if h.timestamp < len(row) {
			row[h.timestamp] = excelSerialToRFC3339(row[h.timestamp])
		}

		ticker, err := parseRow(row, h, p.columns, i+1)
		if err != nil {
			return nil, err
		}
		data = append(data, ticker)
	}
	return data, nil
}

func excelSerialToRFC3339(v string) string {
	serial, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || serial <= 0 || serial >= excelSerialLimit {
		return v
	}
	ts, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
