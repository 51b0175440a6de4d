package data

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ducminhle1904/risk-gate/pkg/types"
)

// ProviderFor picks a provider from the file extension.
func ProviderFor(source string) (DatasetProvider, error) {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".csv":
		return NewCSVProvider(), nil
	case ".xlsx", ".xlsm":
		return NewXLSXProvider(), nil
	}
	return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(source))
}

// LoadDataset loads source with the provider matching its extension.
func LoadDataset(source string) (types.Dataset, error) {
	provider, err := ProviderFor(source)
	if err != nil {
		return nil, err
	}
	return provider.LoadDataset(source)
}
