// Package store implements the persisted state of spec.md §6: the
// ohlcv_data table (raw 1m and provider-native bars, unique-indexed and
// upserted), and the preaggregation_configs table backing the Aggregate
// View Source (spec.md §4.4). Built on jackc/pgx/v5, following the donor's
// libs/database/connection.go connection-pooling and retry idiom,
// generalized from a generic SQL wrapper into the market-data schema.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"jax-marketdata-core/internal/bars"
)

// Config configures the Postgres/Timescale-style connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

// DefaultConfig mirrors the donor's libs/database.DefaultConfig values.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		RetryAttempts:   3,
		RetryDelay:      time.Second,
	}
}

// Store wraps a *sql.DB with the OHLCV schema's read/write operations.
type Store struct {
	db *sql.DB
}

// Connect opens the connection pool with bounded retry, following the
// donor's connection.Connect exponential-backoff loop.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: empty DSN")
	}
	var db *sql.DB
	var err error
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			continue
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if err = db.PingContext(ctx); err != nil {
			db.Close()
			continue
		}
		return &Store{db: db}, nil
	}
	return nil, fmt.Errorf("store: connect after %d attempts: %w", attempts+1, err)
}

// NewFromDB wraps an already-open *sql.DB, used by tests against a fake
// driver and by callers that manage the pool themselves.
func NewFromDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// UpsertBars writes group's bars into ohlcv_data for (key), keyed by the
// unique index (market, provider, symbol, timeframe, timestamp); conflicts
// overwrite the OHLCV fields. Best-effort from the caller's perspective —
// backfill treats a failure here as aborting only the current chunk, and
// PluginSource logs it and still returns the fetched bars (spec.md §7).
func (s *Store) UpsertBars(ctx context.Context, key bars.AssetKey, group []bars.Bar) error {
	if len(group) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ohlcv_data (market, provider, symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (market, provider, symbol, timeframe, timestamp)
		DO UPDATE SET open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
			close=EXCLUDED.close, volume=EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("store: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range group {
		if _, err := stmt.ExecContext(ctx, key.Market, key.Provider, key.Symbol, key.Timeframe,
			b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("store: upsert bar ts=%d: %w", b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// QueryBars reads raw bars for key within [since, before), oldest-first,
// bounded by limit. since/before nil-able per the shared limit semantics
// used across DataSources (spec.md §4.5).
func (s *Store) QueryBars(ctx context.Context, key bars.AssetKey, since, before *int64, limit int) ([]bars.Bar, error) {
	query := `SELECT timestamp, open, high, low, close, volume FROM ohlcv_data
		WHERE market=$1 AND provider=$2 AND symbol=$3 AND timeframe=$4`
	args := []any{key.Market, key.Provider, key.Symbol, key.Timeframe}

	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if before != nil {
		args = append(args, *before)
		query += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}
	query += " ORDER BY timestamp ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query bars: %w", err)
	}
	defer rows.Close()

	var out []bars.Bar
	for rows.Next() {
		var b bars.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("store: scan bar: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MinTimestamp returns the earliest stored timestamp for asset's 1m series,
// or (0, false) if no rows exist. Used by the Backfill Manager's gap check
// (spec.md §4.8).
func (s *Store) MinTimestamp(ctx context.Context, asset bars.Asset) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MIN(timestamp) FROM ohlcv_data
		WHERE market=$1 AND provider=$2 AND symbol=$3 AND timeframe='1m'`,
		asset.Market, asset.Provider, asset.Symbol)

	var min sql.NullInt64
	if err := row.Scan(&min); err != nil {
		return 0, false, fmt.Errorf("store: min timestamp: %w", err)
	}
	if !min.Valid {
		return 0, false, nil
	}
	return min.Int64, true, nil
}

// AggregateViewConfig is one row of preaggregation_configs.
type AggregateViewConfig struct {
	ViewName        string
	TargetTimeframe string
	BaseTimeframe   string
	BucketInterval  string
	IsActive        bool
}

// LoadAggregateViewConfigs reads every active preaggregation_configs row.
// Called once per process by the Aggregate View Source and cached
// thereafter (spec.md §4.4, §9).
func (s *Store) LoadAggregateViewConfigs(ctx context.Context) ([]AggregateViewConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT view_name, target_timeframe, base_timeframe, bucket_interval, is_active
		FROM preaggregation_configs WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("store: load aggregate view configs: %w", err)
	}
	defer rows.Close()

	var out []AggregateViewConfig
	for rows.Next() {
		var c AggregateViewConfig
		if err := rows.Scan(&c.ViewName, &c.TargetTimeframe, &c.BaseTimeframe, &c.BucketInterval, &c.IsActive); err != nil {
			return nil, fmt.Errorf("store: scan aggregate view config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueryAggregateView reads bars from view for key within [since, before),
// oldest-first, bounded by limit. Used by the Aggregate View Source against
// the continuous-aggregate table named by view.
func (s *Store) QueryAggregateView(ctx context.Context, view string, key bars.AssetKey, since, before *int64, limit int) ([]bars.Bar, error) {
	query := fmt.Sprintf(`SELECT bucketed_time, open, high, low, close, volume FROM %s
		WHERE market=$1 AND provider=$2 AND symbol=$3`, quoteIdent(view))
	args := []any{key.Market, key.Provider, key.Symbol}

	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND bucketed_time >= $%d", len(args))
	}
	if before != nil {
		args = append(args, *before)
		query += fmt.Sprintf(" AND bucketed_time < $%d", len(args))
	}
	query += " ORDER BY bucketed_time ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query aggregate view %s: %w", view, err)
	}
	defer rows.Close()

	var out []bars.Bar
	for rows.Next() {
		var b bars.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("store: scan aggregate view row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// quoteIdent defensively quotes a view name sourced from the
// preaggregation_configs table before interpolating it into a query
// string; view names are operator-controlled config, not end-user input,
// but every identifier placed in a query text still gets quoted.
func quoteIdent(ident string) string {
	return `"` + sqlIdentEscape(ident) + `"`
}

func sqlIdentEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
