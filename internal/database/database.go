// Package database opens the shared sqlx handle for the configured
// driver. Placeholder dialect differences are handled by sqlx.Rebind at
// the query sites.
package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	// Drivers the platform deploys against.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opendesk-io/opendesk-ce/internal/config"
)

var supportedDrivers = map[string]bool{
	"mysql":    true,
	"postgres": true,
	"sqlite3":  true,
}

// Open connects with the configured driver and applies pool settings.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if !supportedDrivers[cfg.Driver] {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}
