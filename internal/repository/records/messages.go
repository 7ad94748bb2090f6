package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
)

// Message is a row of the messages table.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           chat.Role `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if !s.IsConnected() {
		return nil, ErrDisconnected
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// AddMessage inserts a message and touches the parent conversation's
// updated_at in the same transaction. A non-zero CreatedAt is stored as-is so
// rows keep the order they were appended in locally; otherwise the database
// clock is used.
func (s *Store) AddMessage(ctx context.Context, msg Message) (Message, error) {
	if !s.IsConnected() {
		return Message{}, ErrDisconnected
	}
	if !msg.Role.Valid() {
		return Message{}, fmt.Errorf("%w: role %q", ErrInvalidInput, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var createdAt any
	if !msg.CreatedAt.IsZero() {
		createdAt = msg.CreatedAt
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, now())) RETURNING created_at`,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content, createdAt,
		).Scan(&msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		tag, err := tx.Exec(ctx, "UPDATE conversations SET updated_at = now() WHERE id = $1", msg.ConversationID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}
