// Package db manages the read-only connection to the Dataverse PostgreSQL
// database. The reports tool does not own this schema — it only queries the
// guestbook tables for cumulative download counts — so there is no migration
// machinery here.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect establishes a connection to the Dataverse PostgreSQL database and
// verifies it with a ping. A ping failure is fatal to the run: reports must
// not start when download counts cannot be resolved.
func Connect(dsn string, maxConnections, minIdleConnections int) (*sqlx.DB, error) {
	database, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(maxConnections)
	database.SetMaxIdleConns(minIdleConnections)

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return database, nil
}
