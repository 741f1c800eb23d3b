// Package storage is the Postgres persistence layer: per-provider account
// tables, the rolling usage log, monotonic usage counters and user settings.
// Repositories do no business validation; transaction boundaries belong to
// the callers that need them.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/migrations"
)

// ErrNotFound reports a row that does not exist or is not visible to the
// requesting user.
var ErrNotFound = errors.New("storage: not found")

const defaultQueryTimeout = 5 * time.Second

// Store owns the connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("Connected to PostgreSQL")
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle. Tests use this.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Initialize applies pending schema migrations.
func (s *Store) Initialize(ctx context.Context) error {
	if err := migrations.PostgresUp(s.db); err != nil {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}
	log.Info("PostgreSQL migrations applied")
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PoolStats returns connection pool gauges for monitoring.
func (s *Store) PoolStats() (inUse, idle, waits int64) {
	if s == nil || s.db == nil {
		return 0, 0, 0
	}
	st := s.db.Stats()
	return int64(st.InUse), int64(st.Idle), st.WaitCount
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}
