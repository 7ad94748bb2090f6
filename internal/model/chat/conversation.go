package chat

import "time"

const (
	DefaultTitle = "New Chat"
	DefaultModel = "anthropic/claude-sonnet-4"

	// TitleLimit is the number of characters kept when a title is derived
	// from the first user message.
	TitleLimit = 50
)

// Conversation is a titled, ordered transcript plus per-conversation settings.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Model     string         `json:"model"`
	Settings  map[string]any `json:"settings"`
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Model        string    `json:"model"`
	MessageCount int       `json:"messageCount"`
}

// DefaultSettings returns a fresh copy of the settings every new conversation starts with.
func DefaultSettings() map[string]any {
	return map[string]any{
		"temperature":  1.0,
		"maxTokens":    4096,
		"systemPrompt": "",
	}
}

// Summarize returns the list view of c.
func (c Conversation) Summarize() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		UpdatedAt:    c.UpdatedAt,
		Model:        c.Model,
		MessageCount: len(c.Messages),
	}
}

// Clone returns a deep enough copy that callers cannot mutate store state.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.Settings = make(map[string]any, len(c.Settings))
	for k, v := range c.Settings {
		out.Settings[k] = v
	}
	return out
}

// DeriveTitle truncates content to TitleLimit characters, appending "..."
// only when something was cut.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleLimit {
		return content
	}
	return string(runes[:TitleLimit]) + "..."
}
