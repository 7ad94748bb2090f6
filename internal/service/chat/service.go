package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("invalid message role")
)

// Service owns conversations. Every mutation is applied in memory and then
// written through to the mirror file before the call returns; mutations are
// serialized by a single mutex so concurrent writers never clobber each other.
type Service struct {
	mu            sync.Mutex
	path          string
	conversations *conversationMap
	now           func() time.Time
	mirror        *recordMirror
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService loads the mirror at path. A missing or unreadable mirror starts
// an empty store, rehydrated from the record store when one is connected.
// An empty path keeps conversations in memory only.
func NewService(path string, opts ...Option) *Service {
	s := &Service{
		path:          path,
		conversations: newConversationMap(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded := false
	if path != "" {
		convs, err := loadMirror(path)
		switch {
		case err == nil:
			s.conversations, loaded = convs, true
			log.Printf("[chat] loaded %d conversations from %s", convs.Len(), path)
		case errors.Is(err, os.ErrNotExist):
		default:
			log.Printf("[chat] could not load %s, starting empty: %v", path, err)
		}
	}

	if path != "" && !loaded && s.mirror.active() {
		s.rehydrate()
	}

	return s
}

func (s *Service) rehydrate() {
	ctx, cancel := s.mirror.context(context.Background())
	defer cancel()

	convs, err := s.mirror.restore(ctx)
	if err != nil {
		log.Printf("[chat] could not restore from record store: %v", err)
		return
	}
	if convs.Len() == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = convs
	if err := s.persistLocked(); err != nil {
		log.Printf("[chat] restored %d conversations but could not write mirror: %v", convs.Len(), err)
		return
	}
	log.Printf("[chat] restored %d conversations from record store", convs.Len())
}

// Create provisions an empty conversation.
func (s *Service) Create(ctx context.Context, title string) (chat.Conversation, error) {
	if title == "" {
		title = chat.DefaultTitle
	}
	now := s.now().UTC()
	conv := &chat.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  make([]chat.Message, 0, 16),
		CreatedAt: now,
		UpdatedAt: now,
		Model:     chat.DefaultModel,
		Settings:  chat.DefaultSettings(),
	}

	s.mu.Lock()
	s.conversations.Set(conv.ID, conv)
	if err := s.persistLocked(); err != nil {
		s.conversations.Delete(conv.ID)
		s.mu.Unlock()
		return chat.Conversation{}, err
	}
	out := conv.Clone()
	s.mu.Unlock()

	s.mirror.created(ctx, out)
	return out, nil
}

// Get retrieves a conversation by identifier.
func (s *Service) Get(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations.Get(id)
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// List returns every conversation, most recently updated first. Ties keep
// creation order.
func (s *Service) List(_ context.Context) []chat.Conversation {
	s.mu.Lock()
	out := make([]chat.Conversation, 0, s.conversations.Len())
	for pair := s.conversations.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Clone())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// AddMessage appends a message. The first user message also becomes the title.
func (s *Service) AddMessage(ctx context.Context, id string, role chat.Role, content string) (chat.Message, error) {
	if !role.Valid() {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	conv, ok := s.conversations.Get(id)
	if !ok {
		s.mu.Unlock()
		return chat.Message{}, ErrConversationNotFound
	}
	prev := conv.Clone()

	now := s.now().UTC()
	if now.Before(conv.UpdatedAt) {
		now = conv.UpdatedAt
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	if len(conv.Messages) == 1 && role == chat.RoleUser {
		conv.Title = chat.DeriveTitle(content)
	}

	if err := s.persistLocked(); err != nil {
		*conv = prev
		s.mu.Unlock()
		return chat.Message{}, err
	}
	titleChanged := conv.Title != prev.Title
	title := conv.Title
	s.mu.Unlock()

	s.mirror.appended(ctx, id, msg, titleChanged, title)
	return msg, nil
}

// UpdateSettings shallow-merges partial into the conversation settings. A
// "model" key also replaces the conversation model.
func (s *Service) UpdateSettings(ctx context.Context, id string, partial map[string]any) error {
	s.mu.Lock()
	conv, ok := s.conversations.Get(id)
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	prev := conv.Clone()

	if conv.Settings == nil {
		conv.Settings = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		conv.Settings[k] = v
	}
	if model, ok := partial["model"].(string); ok {
		conv.Model = model
	}

	if err := s.persistLocked(); err != nil {
		*conv = prev
		s.mu.Unlock()
		return err
	}
	model := conv.Model
	s.mu.Unlock()

	s.mirror.settings(ctx, id, model, partial)
	return nil
}

// Delete removes a conversation. It reports false if id was already absent.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	pair := s.conversations.GetPair(id)
	if pair == nil {
		s.mu.Unlock()
		return false, nil
	}
	conv := pair.Value
	var next string
	if pair.Next() != nil {
		next = pair.Next().Key
	}
	s.conversations.Delete(id)

	if err := s.persistLocked(); err != nil {
		s.conversations.Set(id, conv)
		if next != "" {
			_ = s.conversations.MoveBefore(id, next)
		}
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	s.mirror.deleted(ctx, id)
	return true, nil
}

func (s *Service) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := saveMirror(s.path, s.conversations); err != nil {
		return fmt.Errorf("persist conversations: %w", err)
	}
	return nil
}

