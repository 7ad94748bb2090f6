// Package orchestrator sequences one chat turn: persist the user input, run
// the agent, persist its answer and notify the originating client.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/agent"
	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
)

var ErrInvalidTurn = errors.New("conversationId and message are required")

// cleanupWait bounds Cleanup, which gets its own context so a turn that hit
// the agent timeout can still release what it holds.
const cleanupWait = 10 * time.Second

// AgentExecutionError wraps any failure raised while creating or running the
// agent, including recovered panics.
type AgentExecutionError struct {
	Err error
}

func (e *AgentExecutionError) Error() string {
	return "agent execution failed: " + e.Err.Error()
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }

// ConversationStore is the part of the conversation service a turn needs.
type ConversationStore interface {
	Get(ctx context.Context, id string) (chat.Conversation, error)
	AddMessage(ctx context.Context, id string, role chat.Role, content string) (chat.Message, error)
}

// Notifier pushes notifications to a client. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, clientID string, n notify.Notification)
}

// Turn is the inbound payload of a websocket chat turn.
type Turn struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// Reply is the result of a synchronous chat turn.
type Reply struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

// Orchestrator 负责单轮对话的完整流程。
type Orchestrator struct {
	store    ConversationStore
	notifier Notifier
	factory  agent.Factory
	timeout  time.Duration
}

// New creates an Orchestrator. A zero timeout leaves agent calls unbounded.
func New(store ConversationStore, notifier Notifier, factory agent.Factory, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:    store,
		notifier: notifier,
		factory:  factory,
		timeout:  timeout,
	}
}

// HandleTurn processes one raw inbound frame from clientID. Failures never
// propagate: they are reported to the client as error notifications.
func (o *Orchestrator) HandleTurn(ctx context.Context, clientID string, raw []byte) {
	emit := func(n notify.Notification) {
		if o.notifier != nil {
			o.notifier.Send(ctx, clientID, n)
		}
	}

	var turn Turn
	if err := json.Unmarshal(raw, &turn); err != nil {
		emit(notify.Notification{Type: notify.TypeError, Message: ErrInvalidTurn.Error()})
		return
	}
	o.Stream(ctx, turn, emit)
}

// Stream runs turn and reports every step through emit instead of the
// registry. emit is called sequentially from the calling goroutine.
func (o *Orchestrator) Stream(ctx context.Context, turn Turn, emit func(notify.Notification)) {
	if turn.ConversationID == "" || turn.Message == "" {
		emit(notify.Notification{Type: notify.TypeError, Message: ErrInvalidTurn.Error()})
		return
	}

	conv, err := o.store.Get(ctx, turn.ConversationID)
	if err != nil {
		emit(notify.Notification{Type: notify.TypeError, ConversationID: turn.ConversationID, Message: "conversation not found"})
		return
	}

	if _, err := o.store.AddMessage(ctx, conv.ID, chat.RoleUser, turn.Message); err != nil {
		log.Printf("[orchestrator] persist user message conversation=%s failed: %v", conv.ID, err)
		emit(notify.Notification{Type: notify.TypeError, ConversationID: conv.ID, Message: "failed to save message"})
		return
	}

	emit(notify.Notification{Type: notify.TypeStart, ConversationID: conv.ID})
	defer emit(notify.Notification{Type: notify.TypeEnd, ConversationID: conv.ID})

	result, err := o.runAgent(ctx, BuildPrompt(conv.Messages, turn.Message))
	if err != nil {
		log.Printf("[orchestrator] conversation=%s: %v", conv.ID, err)
		emit(notify.Notification{Type: notify.TypeError, ConversationID: conv.ID, Message: err.Error()})
		return
	}
	if result == "" {
		return
	}

	if _, err := o.store.AddMessage(ctx, conv.ID, chat.RoleAssistant, result); err != nil {
		log.Printf("[orchestrator] persist assistant message conversation=%s failed: %v", conv.ID, err)
	}
	emit(notify.Notification{Type: notify.TypeMessage, ConversationID: conv.ID, Content: result})
}

// Chat runs a turn without notifications and returns the agent's answer.
func (o *Orchestrator) Chat(ctx context.Context, conversationID, message string) (Reply, error) {
	if conversationID == "" || message == "" {
		return Reply{}, ErrInvalidTurn
	}

	conv, err := o.store.Get(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}

	if _, err := o.store.AddMessage(ctx, conv.ID, chat.RoleUser, message); err != nil {
		return Reply{}, fmt.Errorf("save user message: %w", err)
	}

	result, err := o.runAgent(ctx, BuildPrompt(conv.Messages, message))
	if err != nil {
		return Reply{}, err
	}

	if result != "" {
		if _, err := o.store.AddMessage(ctx, conv.ID, chat.RoleAssistant, result); err != nil {
			log.Printf("[orchestrator] persist assistant message conversation=%s failed: %v", conv.ID, err)
		}
	}

	return Reply{Response: result, ConversationID: conv.ID}, nil
}

// runAgent creates an instance, runs prompt and cleans up exactly once. The
// agent outlives the caller's context so a dropped connection does not
// abort a running turn.
func (o *Orchestrator) runAgent(parent context.Context, prompt string) (result string, err error) {
	ctx := context.WithoutCancel(parent)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &AgentExecutionError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	inst, err := o.factory.Create(ctx)
	if err != nil {
		return "", &AgentExecutionError{Err: err}
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), cleanupWait)
		defer cancel()
		if cerr := inst.Cleanup(cleanupCtx); cerr != nil {
			log.Printf("[orchestrator] agent cleanup failed: %v", cerr)
		}
	}()

	result, err = inst.Run(ctx, prompt)
	if err != nil {
		return "", &AgentExecutionError{Err: err}
	}
	return result, nil
}

// BuildPrompt folds the messages that preceded the current turn into a
// single prompt. history is the transcript before message was appended.
func BuildPrompt(history []chat.Message, message string) string {
	if len(history) == 0 {
		return message
	}

	var b strings.Builder
	b.WriteString("previous conversation:\n")
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role.Label())
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	b.WriteString("\n\nUser: ")
	b.WriteString(message)
	return b.String()
}
