// Package idcache persists the source-key to identifier associations
// discovered during scans, so later passes can resolve products without
// re-fetching detail pages.
package idcache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var header = []string{"key", "identifier"}

// Pair is one key to identifier association to record.
type Pair struct {
	Key        string
	Identifier string
}

// Cache is a durable identifier table backed by an append-only CSV
// file. Existing keys are never overwritten: the first identifier
// recorded for a key wins.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]string
}

// Open loads the cache at path, creating the file (and its directory)
// with a header row when absent.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{path: path, logger: logger.With("cache", path)}
	if err := c.ensureFile(); err != nil {
		return nil, err
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) ensureFile() error {
	fi, err := os.Stat(c.path)
	if err == nil && fi.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write cache header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write cache header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync cache: %w", err)
	}
	return f.Close()
}

// Lookup returns the identifier recorded for key.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Len reports how many identifiers are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RecordBatch appends associations for keys not yet cached and returns
// how many rows were written. Pairs missing a key or identifier are
// ignored, and a key is written at most once per batch. Recording the
// same batch twice is a no-op.
func (c *Cache) RecordBatch(pairs []Pair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([][]string, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		key := strings.TrimSpace(p.Key)
		id := strings.TrimSpace(p.Identifier)
		if key == "" || id == "" {
			continue
		}
		if _, ok := c.entries[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, []string{key, id})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := c.appendRows(rows); err != nil {
		return 0, err
	}
	if err := c.reloadLocked(); err != nil {
		return len(rows), err
	}
	c.logger.Debug("recorded identifiers", "count", len(rows), "total", len(c.entries))
	return len(rows), nil
}

func (c *Cache) appendRows(rows [][]string) error {
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cache for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("append cache row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	return f.Sync()
}

func (c *Cache) reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloadLocked()
}

func (c *Cache) reloadLocked() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	entries := make(map[string]string)
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read cache: %w", err)
		}
		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "key") {
				continue
			}
		}
		if len(row) < 2 {
			continue
		}
		key := strings.TrimSpace(row[0])
		id := strings.TrimSpace(row[1])
		if key == "" || id == "" {
			continue
		}
		// Hand-edited files may repeat a key; the last row wins here,
		// matching plain read order.
		entries[key] = id
	}

	c.entries = entries
	return nil
}
