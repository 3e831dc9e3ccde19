package pricing

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// StaticTable serves reference prices from an in-memory table, usually
// loaded from a CSV file of identifier,price rows.
type StaticTable struct {
	prices map[string]float64
}

// NewStaticTable builds a table from a literal map.
func NewStaticTable(prices map[string]float64) *StaticTable {
	cloned := make(map[string]float64, len(prices))
	for k, v := range prices {
		cloned[k] = v
	}
	return &StaticTable{prices: cloned}
}

// LoadStaticTable reads a CSV price list. A header row is optional;
// rows that do not parse are skipped.
func LoadStaticTable(path string) (*StaticTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference prices: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	prices := make(map[string]float64)
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read reference prices: %w", err)
		}
		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "identifier") {
				continue
			}
		}
		if len(row) < 2 {
			continue
		}
		id := strings.TrimSpace(row[0])
		price, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if id == "" || err != nil || price <= 0 {
			continue
		}
		prices[id] = price
	}

	return &StaticTable{prices: prices}, nil
}

// PriceFor implements Lookup.
func (t *StaticTable) PriceFor(_ context.Context, identifier string) (float64, bool, error) {
	v, ok := t.prices[identifier]
	return v, ok, nil
}

// Len reports the number of loaded prices.
func (t *StaticTable) Len() int { return len(t.prices) }
