// Package notify keeps the live client connections notifications are pushed to.
package notify

import (
	"context"
	"log"
	"sync"
)

// Notification types pushed during a chat turn.
const (
	TypeStart   = "start"
	TypeMessage = "message"
	TypeError   = "error"
	TypeEnd     = "end"
)

// Notification is the outbound payload shape.
type Notification struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Channel delivers notifications to one client.
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

// Registry maps client ids to their channel. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry 创建空的连接注册表。
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register binds id to ch. A later registration under the same id replaces
// the earlier one.
func (r *Registry) Register(id string, ch Channel) {
	r.mu.Lock()
	r.channels[id] = ch
	r.mu.Unlock()
	log.Printf("[notify] registered client=%s", id)
}

// Unregister removes id only while it is still bound to ch, so a stale
// connection closing never evicts its replacement.
func (r *Registry) Unregister(id string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.channels[id]; ok && cur == ch {
		delete(r.channels, id)
		log.Printf("[notify] unregistered client=%s", id)
	}
}

// Send delivers n to id at most once. Unknown ids and delivery failures are
// dropped; Send never returns them to the caller.
func (r *Registry) Send(ctx context.Context, id string, n Notification) {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if err := ch.Send(ctx, n); err != nil {
		log.Printf("[notify] send %s to client=%s failed: %v", n.Type, id, err)
	}
}

// Count reports the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
