package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
	"github.com/zhouzirui/agentchat/backend/internal/repository/records"
)

// RecordStore is the subset of the remote record store the service forwards
// mutations to and restores from.
type RecordStore interface {
	IsConnected() bool
	ListConversations(ctx context.Context, userID string) ([]records.Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (records.Conversation, error)
	CreateConversation(ctx context.Context, id, userID, title, model string) (records.Conversation, error)
	AddMessage(ctx context.Context, msg records.Message) (records.Message, error)
	UpdateConversation(ctx context.Context, id string, update records.ConversationUpdate) (records.Conversation, error)
	DeleteConversation(ctx context.Context, id, userID string) (bool, error)
}

// WithRecordStore forwards every mutation to store under owner. Forwarding is
// best effort: failures are logged and never undo the local write.
func WithRecordStore(store RecordStore, owner string) Option {
	return func(s *Service) {
		if store == nil {
			return
		}
		s.mirror = &recordMirror{store: store, owner: owner, timeout: 5 * time.Second}
	}
}

type recordMirror struct {
	store   RecordStore
	owner   string
	timeout time.Duration
}

func (m *recordMirror) active() bool {
	return m != nil && m.store.IsConnected()
}

func (m *recordMirror) context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
}

func (m *recordMirror) created(ctx context.Context, conv chat.Conversation) {
	if !m.active() {
		return
	}
	ctx, cancel := m.context(ctx)
	defer cancel()

	if _, err := m.store.CreateConversation(ctx, conv.ID, m.owner, conv.Title, conv.Model); err != nil {
		m.report("create conversation", conv.ID, err)
	}
}

func (m *recordMirror) appended(ctx context.Context, id string, msg chat.Message, titleChanged bool, title string) {
	if !m.active() {
		return
	}
	ctx, cancel := m.context(ctx)
	defer cancel()

	_, err := m.store.AddMessage(ctx, records.Message{
		ID:             msg.ID,
		ConversationID: id,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.Timestamp,
	})
	if err != nil {
		m.report("add message", id, err)
		return
	}
	if titleChanged {
		if _, err := m.store.UpdateConversation(ctx, id, records.ConversationUpdate{Title: &title}); err != nil {
			m.report("update title", id, err)
		}
	}
}

func (m *recordMirror) settings(ctx context.Context, id, model string, partial map[string]any) {
	if !m.active() {
		return
	}
	ctx, cancel := m.context(ctx)
	defer cancel()

	update := records.ConversationUpdate{Settings: partial}
	if _, ok := partial["model"]; ok {
		update.Model = &model
	}
	if _, err := m.store.UpdateConversation(ctx, id, update); err != nil {
		m.report("update settings", id, err)
	}
}

func (m *recordMirror) deleted(ctx context.Context, id string) {
	if !m.active() {
		return
	}
	ctx, cancel := m.context(ctx)
	defer cancel()

	if _, err := m.store.DeleteConversation(ctx, id, m.owner); err != nil {
		m.report("delete conversation", id, err)
	}
}

// restore loads every conversation the owner has in the record store, in
// creation order.
func (m *recordMirror) restore(ctx context.Context) (*conversationMap, error) {
	rows, err := m.store.ListConversations(ctx, m.owner)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	out := newConversationMap()
	for _, row := range rows {
		full, err := m.store.GetConversation(ctx, row.ID, m.owner)
		if err != nil {
			return nil, err
		}
		conv := fromRecord(full)
		out.Set(conv.ID, &conv)
	}
	return out, nil
}

func fromRecord(r records.Conversation) chat.Conversation {
	conv := chat.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		Messages:  make([]chat.Message, 0, len(r.Messages)),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Model:     r.Model,
		Settings:  chat.DefaultSettings(),
	}
	for k, v := range r.Settings {
		conv.Settings[k] = v
	}
	for _, m := range r.Messages {
		conv.Messages = append(conv.Messages, chat.Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt.UTC(),
		})
	}
	return conv
}

func (m *recordMirror) report(op, id string, err error) {
	if errors.Is(err, records.ErrDisconnected) {
		return
	}
	log.Printf("[chat] record store %s failed for %s: %v", op, id, err)
}
