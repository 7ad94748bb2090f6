package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User is a row of the users table.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetUser looks a user up by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	if !s.IsConnected() {
		return User{}, ErrDisconnected
	}
	if _, err := uuid.Parse(id); err != nil {
		return User{}, fmt.Errorf("%w: user id %q", ErrInvalidInput, id)
	}
	return s.scanUser(ctx, "SELECT id, email, name, created_at FROM users WHERE id = $1", id)
}

// GetUserByEmail looks a user up by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if !s.IsConnected() {
		return User{}, ErrDisconnected
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.scanUser(ctx, "SELECT id, email, name, created_at FROM users WHERE email = $1", email)
}

// CreateUser inserts a user. An empty ID is generated.
func (s *Store) CreateUser(ctx context.Context, user User) (User, error) {
	if !s.IsConnected() {
		return User{}, ErrDisconnected
	}
	if strings.TrimSpace(user.Email) == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	err := s.db.QueryRow(ctx,
		"INSERT INTO users (id, email, name) VALUES ($1, $2, $3) RETURNING created_at",
		user.ID, user.Email, user.Name,
	).Scan(&user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Store) scanUser(ctx context.Context, query string, arg any) (User, error) {
	var user User
	err := s.db.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
