package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Country describes how one marketplace is addressed on the portal and in the store.
type Country struct {
	Code          string
	DownloadCode  string
	MarketplaceID uuid.UUID
	MinFileSize   int64
}

// CountryTable is an immutable, ordered set of countries built once per run.
type CountryTable struct {
	order  []string
	byCode map[string]Country
}

// countriesFile is the YAML layout accepted by LoadCountryTable.
type countriesFile struct {
	Countries []countryEntry `yaml:"countries"`
}

type countryEntry struct {
	Code          string `yaml:"code"`
	DownloadCode  string `yaml:"download_code,omitempty"` // defaults to code
	MarketplaceID string `yaml:"marketplace_id"`
	MinFileSizeKB int64  `yaml:"min_file_size_kb"`
}

// DefaultCountries returns the built-in marketplace table in processing order.
func DefaultCountries() CountryTable {
	table, err := NewCountryTable([]Country{
		{Code: "US", DownloadCode: "US", MarketplaceID: uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479"), MinFileSize: 500 * 1024},
		{Code: "CA", DownloadCode: "CA", MarketplaceID: uuid.MustParse("a1b2c3d4-58cc-4372-a567-0e02b2c3d480"), MinFileSize: 100 * 1024},
		{Code: "UK", DownloadCode: "UK", MarketplaceID: uuid.MustParse("b2c3d4e5-58cc-4372-a567-0e02b2c3d481"), MinFileSize: 100 * 1024},
		{Code: "DE", DownloadCode: "DE", MarketplaceID: uuid.MustParse("c3d4e5f6-58cc-4372-a567-0e02b2c3d482"), MinFileSize: 50 * 1024},
		{Code: "FR", DownloadCode: "FR", MarketplaceID: uuid.MustParse("d4e5f6a7-58cc-4372-a567-0e02b2c3d483"), MinFileSize: 20 * 1024},
		{Code: "AU", DownloadCode: "AU", MarketplaceID: uuid.MustParse("f6a7b8c9-58cc-4372-a567-0e02b2c3d485"), MinFileSize: 20 * 1024},
	})
	if err != nil {
		panic(err)
	}
	return table
}

// NewCountryTable validates the entries and freezes them in the given order.
func NewCountryTable(countries []Country) (CountryTable, error) {
	table := CountryTable{byCode: make(map[string]Country, len(countries))}
	for _, c := range countries {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" {
			return CountryTable{}, fmt.Errorf("country code is required")
		}
		if _, dup := table.byCode[code]; dup {
			return CountryTable{}, fmt.Errorf("duplicate country %q", code)
		}
		if c.MarketplaceID == uuid.Nil {
			return CountryTable{}, fmt.Errorf("country %s: marketplace id is required", code)
		}
		if c.MinFileSize < 0 {
			return CountryTable{}, fmt.Errorf("country %s: min file size must not be negative", code)
		}
		c.Code = code
		if strings.TrimSpace(c.DownloadCode) == "" {
			c.DownloadCode = code
		}
		table.order = append(table.order, code)
		table.byCode[code] = c
	}
	return table, nil
}

// LoadCountryTable reads the YAML override at path. A missing file yields the defaults.
func LoadCountryTable(path string) (CountryTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCountries(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCountries(), nil
		}
		return CountryTable{}, fmt.Errorf("reading countries file: %w", err)
	}

	var file countriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return CountryTable{}, fmt.Errorf("parsing countries file: %w", err)
	}
	if len(file.Countries) == 0 {
		return CountryTable{}, fmt.Errorf("countries file %s lists no countries", path)
	}

	countries := make([]Country, 0, len(file.Countries))
	for _, entry := range file.Countries {
		id, err := uuid.Parse(strings.TrimSpace(entry.MarketplaceID))
		if err != nil {
			return CountryTable{}, fmt.Errorf("country %s: invalid marketplace id: %w", entry.Code, err)
		}
		countries = append(countries, Country{
			Code:          entry.Code,
			DownloadCode:  entry.DownloadCode,
			MarketplaceID: id,
			MinFileSize:   entry.MinFileSizeKB * 1024,
		})
	}
	return NewCountryTable(countries)
}

// Codes returns the country codes in processing order.
func (t CountryTable) Codes() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Lookup returns the country for code (case-insensitive).
func (t CountryTable) Lookup(code string) (Country, bool) {
	c, ok := t.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// Select resolves "all" (or an empty value) to every country, otherwise the named ones.
func (t CountryTable) Select(codes ...string) ([]Country, error) {
	if len(codes) == 0 || (len(codes) == 1 && strings.EqualFold(strings.TrimSpace(codes[0]), "all")) {
		out := make([]Country, 0, len(t.order))
		for _, code := range t.order {
			out = append(out, t.byCode[code])
		}
		return out, nil
	}
	out := make([]Country, 0, len(codes))
	for _, code := range codes {
		c, ok := t.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("unknown country %q (valid: %s)", code, strings.Join(t.order, ", "))
		}
		out = append(out, c)
	}
	return out, nil
}
