// Package database provides PostgreSQL access to subscribers, countries and
// recorded earthquakes.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Subscriber is a row of the subscriber table.
type Subscriber struct {
	ID           int
	Name         string
	Email        string
	Weekly       bool
	CountryID    *int     // nil matches any country
	MinMagnitude *float64 // nil matches any magnitude
	TopicARN     string   // per-subscriber topic, empty until provisioned
}

// Tables names the relations the store reads from. Empty fields fall back to
// DefaultTables when merged.
type Tables struct {
	Schema      string
	Subscribers string
	Countries   string
	Events      string
}

// DefaultTables matches the schema created by scripts/schema.sql.
var DefaultTables = Tables{
	Schema:      "earthquakes",
	Subscribers: "subscriber",
	Countries:   "country",
	Events:      "event",
}

// Merge returns t with every empty field taken from base.
func (t Tables) Merge(base Tables) Tables {
	if t.Schema == "" {
		t.Schema = base.Schema
	}
	if t.Subscribers == "" {
		t.Subscribers = base.Subscribers
	}
	if t.Countries == "" {
		t.Countries = base.Countries
	}
	if t.Events == "" {
		t.Events = base.Events
	}
	return t
}

// IsZero reports whether no table is named.
func (t Tables) IsZero() bool {
	return t == Tables{}
}

// qualified returns a quoted schema.table identifier.
func (t Tables) qualified(table string) string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(table)
}

// DB wraps a connection pool. It is safe for concurrent use; the pool is
// shared by every invocation of the process.
type DB struct {
	conn   *sql.DB
	tables Tables
}

// NewDB opens a connection pool for the DSN and verifies it with a bounded ping.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn, tables: DefaultTables}, nil
}

// WithTables returns a store sharing the same pool but reading from the given
// tables. Empty fields keep the current names.
func (db *DB) WithTables(t Tables) *DB {
	return &DB{conn: db.conn, tables: t.Merge(db.tables)}
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}
