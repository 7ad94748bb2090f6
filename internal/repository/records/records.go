// Package records is the Postgres-backed record store for users,
// conversations and messages.
//
// The store is optional. When no database is configured, or the database is
// unreachable, or its schema is incomplete, the store is disconnected: every
// call returns ErrDisconnected and the rest of the process keeps running on
// its local mirror.
package records

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/agentchat/backend/internal/config"
	"github.com/zhouzirui/agentchat/backend/internal/repository/records/migrations"
)

var (
	// ErrDisconnected is returned by every operation while the store runs degraded.
	ErrDisconnected = errors.New("record store disconnected")
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid record input")
)

// DB is the part of a pgx pool the store issues queries through.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a thin CRUD façade over the remote tables.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewWithDB returns a connected store that queries db. The caller owns db.
func NewWithDB(db DB) *Store {
	if db == nil {
		return Disconnected()
	}
	return &Store{db: db}
}

// Disconnected returns a store that reports ErrDisconnected for every call.
func Disconnected() *Store {
	return &Store{}
}

// Connect opens a pool and probes the schema. It never fails: any problem is
// logged and yields a disconnected store.
func Connect(ctx context.Context, cfg config.DatabaseConfig) *Store {
	if !cfg.Enabled() {
		log.Println("[records] DATABASE_URL not set, running in local mode")
		return Disconnected()
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		log.Printf("[records] remote backend unavailable, running in local mode: %v", err)
		return Disconnected()
	}

	store := &Store{db: pool, pool: pool}
	if missing, err := store.probeSchema(ctx); err != nil {
		log.Printf("[records] schema probe failed, running in local mode: %v", err)
		pool.Close()
		return Disconnected()
	} else if len(missing) > 0 {
		logRemediation(missing)
		pool.Close()
		return Disconnected()
	}

	log.Println("[records] connected to remote record store")
	return store
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// probeSchema returns the required tables that do not exist.
func (s *Store) probeSchema(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range migrations.RequiredTables {
		var exists bool
		if err := s.db.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", "public."+table).Scan(&exists); err != nil {
			return nil, fmt.Errorf("probe table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

func logRemediation(missing []string) {
	log.Printf("[records] missing tables %v, running in local mode", missing)
	ddl, err := migrations.UpSQL()
	if err != nil {
		log.Printf("[records] could not load schema: %v", err)
		return
	}
	log.Printf("[records] apply the following schema (or run cmd/migrate) to enable the remote store:\n%s", ddl)
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsConnected reports whether the remote backend is usable.
func (s *Store) IsConnected() bool {
	return s != nil && s.db != nil
}

// Pool exposes the underlying pool so other remote components can share it.
// It is nil when the store is disconnected.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the pool opened by Connect.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
