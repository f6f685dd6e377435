package ticker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Company maps a lower-case company name onto its ticker symbol.
type Company struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
}

// Table is scanned in order; the first matching name wins.
type Table struct {
	Companies []Company `yaml:"companies"`
	Stoplist  []string  `yaml:"stoplist"`
}

func DefaultTable() Table {
	return Table{
		Companies: []Company{
			{Name: "apple", Symbol: "AAPL"},
			{Name: "tesla", Symbol: "TSLA"},
			{Name: "microsoft", Symbol: "MSFT"},
			{Name: "amazon", Symbol: "AMZN"},
			{Name: "google", Symbol: "GOOGL"},
			{Name: "alphabet", Symbol: "GOOGL"},
			{Name: "meta", Symbol: "META"},
			{Name: "facebook", Symbol: "META"},
			{Name: "nvidia", Symbol: "NVDA"},
			{Name: "amd", Symbol: "AMD"},
			{Name: "intel", Symbol: "INTC"},
			{Name: "netflix", Symbol: "NFLX"},
			{Name: "twitter", Symbol: "X"},
			{Name: "spacex", Symbol: "TSLA"},
			{Name: "berkshire", Symbol: "BRK.B"},
			{Name: "walmart", Symbol: "WMT"},
			{Name: "jpmorgan", Symbol: "JPM"},
			{Name: "visa", Symbol: "V"},
			{Name: "mastercard", Symbol: "MA"},
			{Name: "coca-cola", Symbol: "KO"},
			{Name: "pepsi", Symbol: "PEP"},
			{Name: "boeing", Symbol: "BA"},
			{Name: "disney", Symbol: "DIS"},
			{Name: "nike", Symbol: "NKE"},
		},
		Stoplist: []string{"I", "A", "USA", "US", "UK", "CEO", "CFO", "IPO", "ETF", "NYSE", "NASDAQ", "SEC"},
	}
}

// LoadTable reads a YAML table. Missing sections fall back to the defaults,
// so an override file may list only companies.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read ticker table: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return Table{}, fmt.Errorf("parse ticker table: %w", err)
	}

	def := DefaultTable()
	if len(table.Companies) == 0 {
		table.Companies = def.Companies
	}
	if len(table.Stoplist) == 0 {
		table.Stoplist = def.Stoplist
	}
	for i, c := range table.Companies {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		symbol := Normalize(c.Symbol)
		if name == "" || symbol == "" {
			return Table{}, fmt.Errorf("ticker table entry %d: name and symbol are required", i)
		}
		table.Companies[i] = Company{Name: name, Symbol: symbol}
	}
	return table, nil
}

func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
