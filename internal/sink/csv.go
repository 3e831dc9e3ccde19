package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var csvHeader = []string{"source", "title", "identifier", "price", "reference_price", "margin", "url"}

// CSVSink appends candidates to <dir>/<destination>.csv, writing the
// header only when the file is new or empty.
type CSVSink struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

// NewCSV creates a CSV sink rooted at dir. The directory is created lazily
// on first append.
func NewCSV(dir string, logger *slog.Logger) (*CSVSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("csv sink: directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSink{dir: dir, logger: logger}, nil
}

// Append writes rows to the destination file, creating it with a header
// row first if needed.
func (s *CSVSink) Append(ctx context.Context, destination string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	path := filepath.Join(s.dir, destinationStem(destination)+".csv")

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ensureHeader(path); err != nil {
		return err
	}
	if err := appendRows(path, rows); err != nil {
		return err
	}
	s.logger.Debug("appended export rows", "path", path, "rows", len(rows))
	return nil
}

// destinationStem keeps destination names from escaping the export
// directory. Anything path-like collapses to an underscore.
func destinationStem(destination string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(destination))
	if stem == "" || stem == "." || stem == ".." {
		return "export"
	}
	return stem
}

func ensureHeader(path string) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("write export header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush export header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync export file: %w", err)
	}
	return f.Close()
}

func appendRows(path string, rows []Row) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, row := range rows {
		record := []string{
			row.Source,
			row.Title,
			row.Identifier,
			strconv.FormatFloat(row.Price, 'f', 2, 64),
			strconv.FormatFloat(row.ReferencePrice, 'f', 2, 64),
			strconv.FormatFloat(row.Margin, 'f', 4, 64),
			row.URL,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush export rows: %w", err)
	}
	return f.Sync()
}
