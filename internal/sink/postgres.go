package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"dealscout/internal/config"
)

// PostgresSink upserts candidates into a relational table so repeated
// scans build a queryable history per destination.
type PostgresSink struct {
	db          *sql.DB
	autoMigrate bool
	logger      *slog.Logger
}

// NewPostgres initialises a relational sink from configuration. With
// CreateIfMissing set, a missing target database is created through the
// admin database before reconnecting.
func NewPostgres(cfg config.SQLConfig, logger *slog.Logger) (*PostgresSink, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql sink missing driver or dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	sink := &PostgresSink{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
		logger:      logger,
	}
	if cfg.AutoMigrate {
		if err := sink.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return sink, nil
}

// Append upserts the rows inside one transaction. When the candidates
// table is missing and auto-migration is on, the schema is applied and
// the batch retried once.
func (s *PostgresSink) Append(ctx context.Context, destination string, rows []Row) error {
	if s == nil || s.db == nil || len(rows) == 0 {
		return nil
	}
	if err := s.upsertRows(ctx, destination, rows); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.upsertRows(ctx, destination, rows); retryErr != nil {
				return fmt.Errorf("insert candidates: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert candidates: %w", err)
	}
	s.logger.Debug("stored candidates", "destination", destination, "rows", len(rows))
	return nil
}

func (s *PostgresSink) upsertRows(ctx context.Context, destination string, rows []Row) error {
	query := `
        INSERT INTO candidates (destination, source, identifier, title, price, reference_price, margin, url, seen_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
        ON CONFLICT (destination, source, identifier) DO UPDATE SET
            title = EXCLUDED.title,
            price = EXCLUDED.price,
            reference_price = EXCLUDED.reference_price,
            margin = EXCLUDED.margin,
            url = EXCLUDED.url,
            seen_at = EXCLUDED.seen_at
    `
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query,
			destination,
			row.Source,
			row.Identifier,
			row.Title,
			row.Price,
			row.ReferencePrice,
			row.Margin,
			row.URL,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying DB connection.
func (s *PostgresSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candidates (
		    destination TEXT NOT NULL,
		    source TEXT NOT NULL,
		    identifier TEXT NOT NULL,
		    title TEXT,
		    price NUMERIC(12,2),
		    reference_price NUMERIC(12,2),
		    margin DOUBLE PRECISION,
		    url TEXT,
		    seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		    PRIMARY KEY (destination, source, identifier)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_seen_at ON candidates (seen_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
