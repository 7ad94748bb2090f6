// Package remote stores attachment bytes in the Postgres attachments table.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zhouzirui/agentchat/backend/internal/model/attachment"
)

var errNoPool = errors.New("remote storage not configured")

// DB is the part of a pgx pool the store needs.
type DB interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres blob backend.
type Store struct {
	db DB
}

// New wraps db. A nil db yields a store whose health check always fails.
func New(db DB) *Store {
	return &Store{db: db}
}

// Healthy pings the database and checks the attachments table exists.
func (s *Store) Healthy(ctx context.Context) error {
	if s.db == nil {
		return errNoPool
	}
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var exists bool
	if err := s.db.QueryRow(ctx, "SELECT to_regclass('public.attachments') IS NOT NULL").Scan(&exists); err != nil {
		return fmt.Errorf("probe attachments table: %w", err)
	}
	if !exists {
		return errors.New("attachments table missing")
	}
	return nil
}

// Put inserts the blob and its metadata.
func (s *Store) Put(ctx context.Context, desc attachment.Descriptor, data []byte) error {
	if s.db == nil {
		return errNoPool
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO attachments (path, id, owner, filename, content_type, size, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		desc.Path, desc.ID, desc.Owner, desc.Filename, desc.ContentType, desc.Size, data, desc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// Get returns the blob at path. A missing row yields an error matching fs.ErrNotExist.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if s.db == nil {
		return nil, errNoPool
	}
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT data FROM attachments WHERE path = $1", path).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", path, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("select attachment: %w", err)
	}
	return data, nil
}

// Delete removes the row at path, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, path string) (bool, error) {
	if s.db == nil {
		return false, errNoPool
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM attachments WHERE path = $1", path)
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns owner's attachments, newest first.
func (s *Store) List(ctx context.Context, owner string) ([]attachment.Descriptor, error) {
	if s.db == nil {
		return nil, errNoPool
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, owner, filename, path, content_type, size, created_at
		 FROM attachments WHERE owner = $1 ORDER BY created_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []attachment.Descriptor
	for rows.Next() {
		desc := attachment.Descriptor{Backend: attachment.BackendRemote}
		if err := rows.Scan(&desc.ID, &desc.Owner, &desc.Filename, &desc.Path, &desc.ContentType, &desc.Size, &desc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}
