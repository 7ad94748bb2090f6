package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
)

// Conversation is a row of the conversations table. Messages is filled only
// by GetConversation.
type Conversation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title"`
	Model     string         `json:"model"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Messages  []Message      `json:"messages,omitempty"`
}

// ConversationUpdate carries the columns UpdateConversation may change. Nil
// fields are left untouched.
type ConversationUpdate struct {
	Title    *string
	Model    *string
	Settings map[string]any
}

const conversationColumns = "id, user_id, title, model, settings, created_at, updated_at"

// ListConversations returns a user's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if !s.IsConnected() {
		return nil, ErrDisconnected
	}

	rows, err := s.db.Query(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// GetConversation returns one conversation with its messages. When userID is
// not empty the conversation must belong to that user.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (Conversation, error) {
	if !s.IsConnected() {
		return Conversation{}, ErrDisconnected
	}
	if _, err := uuid.Parse(id); err != nil {
		return Conversation{}, fmt.Errorf("%w: conversation id %q", ErrInvalidInput, id)
	}

	query := "SELECT " + conversationColumns + " FROM conversations WHERE id = $1"
	args := []any{id}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}

	conv, err := scanConversation(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	conv.Messages, err = s.ListMessages(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// CreateConversation inserts a conversation with default settings. A non-empty
// id is used as-is so the local mirror and the remote row share identifiers.
func (s *Store) CreateConversation(ctx context.Context, id, userID, title, model string) (Conversation, error) {
	if !s.IsConnected() {
		return Conversation{}, ErrDisconnected
	}
	if strings.TrimSpace(userID) == "" {
		return Conversation{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if title == "" {
		title = chat.DefaultTitle
	}
	if model == "" {
		model = chat.DefaultModel
	}

	settings := chat.DefaultSettings()
	raw, err := json.Marshal(settings)
	if err != nil {
		return Conversation{}, fmt.Errorf("encode settings: %w", err)
	}

	conv := Conversation{ID: id, UserID: userID, Title: title, Model: model, Settings: settings}
	err = s.db.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, title, model, settings)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		id, userID, title, model, raw,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversation applies update and bumps updated_at.
func (s *Store) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) (Conversation, error) {
	if !s.IsConnected() {
		return Conversation{}, ErrDisconnected
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}
	if update.Title != nil {
		args = append(args, *update.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if update.Model != nil {
		args = append(args, *update.Model)
		sets = append(sets, fmt.Sprintf("model = $%d", len(args)))
	}
	if update.Settings != nil {
		raw, err := json.Marshal(update.Settings)
		if err != nil {
			return Conversation{}, fmt.Errorf("encode settings: %w", err)
		}
		args = append(args, raw)
		// jsonb || merges shallowly, matching the local store.
		sets = append(sets, fmt.Sprintf("settings = settings || $%d::jsonb", len(args)))
	}

	query := "UPDATE conversations SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + conversationColumns
	conv, err := scanConversation(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages. It reports
// whether a row was deleted.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) (bool, error) {
	if !s.IsConnected() {
		return false, ErrDisconnected
	}

	var deleted bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}

		query := "DELETE FROM conversations WHERE id = $1"
		args := []any{id}
		if userID != "" {
			query += " AND user_id = $2"
			args = append(args, userID)
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv Conversation
		raw  []byte
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &raw, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, err
		}
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	conv.Settings = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &conv.Settings); err != nil {
			return Conversation{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return conv, nil
}
