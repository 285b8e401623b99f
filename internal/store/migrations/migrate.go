// Package migrations wires golang-migrate/migrate against the embedded SQL
// files in this directory. The donor carries golang-migrate as an indirect
// go.mod dependency without ever calling it directly; this repo gives it a
// concrete caller so the schema (ohlcv_data, preaggregation_configs) has a
// real migration path instead of being assumed pre-existing.
package migrations

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Run applies all pending up migrations against dsn.
func Run(dsn string) error {
	src, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migrations: load embedded source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrations: new migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
