package pricing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTable(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func TestLoadStaticTable(t *testing.T) {
	path := writeTable(t, "identifier,price\n036000291452,24.99\n012345678905,7.50\n")

	table, err := LoadStaticTable(path)
	if err != nil {
		t.Fatalf("LoadStaticTable: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}

	price, ok, err := table.PriceFor(context.Background(), "036000291452")
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if !ok || price != 24.99 {
		t.Fatalf("PriceFor = (%v, %v), want (24.99, true)", price, ok)
	}
}

func TestLoadStaticTableSkipsMalformedRows(t *testing.T) {
	path := writeTable(t, "identifier,price\n036000291452,24.99\nonly-one-field\n,9.99\n012345678905,not-a-number\n012345678905,0\n")

	table, err := LoadStaticTable(path)
	if err != nil {
		t.Fatalf("LoadStaticTable: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (malformed rows dropped)", table.Len())
	}
	if _, ok, _ := table.PriceFor(context.Background(), "012345678905"); ok {
		t.Fatal("zero-priced row should not resolve")
	}
}

func TestLoadStaticTableWithoutHeader(t *testing.T) {
	path := writeTable(t, "036000291452,24.99\n")

	table, err := LoadStaticTable(path)
	if err != nil {
		t.Fatalf("LoadStaticTable: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
}

func TestLoadStaticTableMissingFile(t *testing.T) {
	if _, err := LoadStaticTable(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatal("expected an error for a missing table file")
	}
}

func TestStaticTableMiss(t *testing.T) {
	table := NewStaticTable(map[string]float64{"036000291452": 24.99})

	price, ok, err := table.PriceFor(context.Background(), "999999999999")
	if err != nil {
		t.Fatalf("PriceFor: %v", err)
	}
	if ok || price != 0 {
		t.Fatalf("PriceFor = (%v, %v), want (0, false)", price, ok)
	}
}

func TestNewStaticTableClonesInput(t *testing.T) {
	prices := map[string]float64{"036000291452": 24.99}
	table := NewStaticTable(prices)
	prices["036000291452"] = 1.00

	price, _, _ := table.PriceFor(context.Background(), "036000291452")
	if price != 24.99 {
		t.Fatalf("table observed caller mutation, price = %v", price)
	}
}
