package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// CSVProvider implements DatasetProvider for CSV files with a header row
type CSVProvider struct {
	columns ColumnMapping
}

// NewCSVProvider creates a new CSV data provider with the default columns
func NewCSVProvider() *CSVProvider {
	return &CSVProvider{columns: DefaultColumns}
}

// NewCSVProviderWithColumns creates a new CSV data provider with custom columns
func NewCSVProviderWithColumns(columns ColumnMapping) *CSVProvider {
	return &CSVProvider{columns: columns}
}

// GetName returns the name of the data provider
func (p *CSVProvider) GetName() string {
	return "CSV Provider"
}

// LoadDataset loads a dataset from a CSV file. A malformed row fails the whole
// load; a partially read batch must not pass a freshness check.
func (p *CSVProvider) LoadDataset(source string) (types.Dataset, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.Read(file)
}

// Read parses CSV from r.
func (p *CSVProvider) Read(r io.Reader) (types.Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return types.Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading CSV header: %w", err)
	}
	h, err := resolveHeader(first, p.columns)
	if err != nil {
		return nil, err
	}

	var data types.Dataset
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("error reading CSV at line %d: %w", line, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}

		row, err := parseRow(record, h, p.columns, line)
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}
	return data, nil
}
