// Package db opens the activity journal database and keeps its schema
// current. SQLite (mattn/go-sqlite3) and PostgreSQL (pgx) are supported
// through database/sql.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var (
	db   *sql.DB
	once sync.Once
)

// InitDB opens the shared database connection and runs schema migrations.
// Later calls return the same connection.
func InitDB(driver, dsn string) (*sql.DB, error) {
	var initErr error
	once.Do(func() {
		db, initErr = Open(driver, dsn)
	})

	if initErr != nil {
		return nil, initErr
	}
	return db, nil
}

// Open opens a new database connection and runs schema migrations.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// The journal has a single writer; one connection also keeps
		// ":memory:" databases from splitting per connection.
		conn.SetMaxOpenConns(1)

		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := runMigrations(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return conn, nil
}

// runMigrations executes the database schema migrations.
func runMigrations(conn *sql.DB, driver string) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestamp := "DATETIME"
	if driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
		timestamp = "TIMESTAMPTZ"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS activity (
			id ` + id + `,
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			change_kind TEXT NOT NULL DEFAULT '',
			sequence BIGINT NOT NULL DEFAULT 0,
			occurred_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_agent_id ON activity(agent_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Rebind rewrites '?' placeholders into the driver's bind syntax.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CloseDB closes the database connection.
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// ResetDB resets the singleton for testing purposes.
func ResetDB() {
	if db != nil {
		db.Close()
	}
	once = sync.Once{}
	db = nil
}

// NewTestDB creates a new in-memory database for testing.
// This bypasses the singleton pattern and creates a fresh database each time.
func NewTestDB() (*sql.DB, error) {
	return Open(DriverSQLite, ":memory:")
}
