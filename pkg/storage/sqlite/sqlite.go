// Package sqlite provides a SQLite-backed idle state store using ent's SQL
// driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/chatty/pkg/storage/entdriver"
)

const schema = `
CREATE TABLE IF NOT EXISTS idle_state (
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	handle TEXT NOT NULL DEFAULT '',
	last_activity_at INTEGER NOT NULL DEFAULT 0,
	last_proactive_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, platform)
)`

// SQLiteDriver implements storage.Driver using SQLite via the ent driver
type SQLiteDriver struct {
	*entdriver.EntDriver
}

// NewSQLiteDriver creates a new SQLite-backed idle state store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDriver(dbPath string) (*SQLiteDriver, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	dsn := dbPath
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	}

	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Wrap the database connection with ent's SQL driver
	drv := entsql.OpenDB(dialect.SQLite, db)
	ed, err := entdriver.New(context.Background(), drv, schema)
	if err != nil {
		drv.Close()
		return nil, err
	}

	return &SQLiteDriver{EntDriver: ed}, nil
}
