package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/agent"
	chatservice "github.com/zhouzirui/agentchat/backend/internal/service/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
	"github.com/zhouzirui/agentchat/backend/internal/service/orchestrator"
)

type sentNotification struct {
	client string
	n      notify.Notification
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingNotifier) Send(_ context.Context, clientID string, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{client: clientID, n: n})
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.n.Type)
	}
	return out
}

type fakeAgent struct {
	mu        sync.Mutex
	reply     string
	err       error
	panicWith any
	createErr error
	prompts   []string
	cleanups  int
	ctxErr    error
}

func (f *fakeAgent) Create(context.Context) (agent.Instance, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f, nil
}

func (f *fakeAgent) Run(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.reply, f.err
}

func (f *fakeAgent) Cleanup(context.Context) error {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
	return nil
}

func setup(t *testing.T, fa *fakeAgent) (*orchestrator.Orchestrator, *chatservice.Service, *recordingNotifier, chat.Conversation) {
	t.Helper()
	store := chatservice.NewService("")
	conv, err := store.Create(context.Background(), "")
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	return orchestrator.New(store, notifier, fa, time.Minute), store, notifier, conv
}

func TestHandleTurnSuccess(t *testing.T) {
	fa := &fakeAgent{reply: "4"}
	orch, store, notifier, conv := setup(t, fa)

	orch.HandleTurn(context.Background(), "client-1", []byte(`{"conversationId":"`+conv.ID+`","message":"2+2?"}`))

	require.Equal(t, []string{"start", "message", "end"}, notifier.types())
	for _, s := range notifier.sent {
		require.Equal(t, "client-1", s.client)
		require.Equal(t, conv.ID, s.n.ConversationID)
	}
	require.Equal(t, "4", notifier.sent[1].n.Content)

	got, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Equal(t, chat.RoleUser, got.Messages[0].Role)
	require.Equal(t, chat.RoleAssistant, got.Messages[1].Role)
	require.Equal(t, "4", got.Messages[1].Content)

	require.Equal(t, []string{"2+2?"}, fa.prompts)
	require.Equal(t, 1, fa.cleanups)
}

func TestHandleTurnAgentFailure(t *testing.T) {
	fa := &fakeAgent{err: errors.New("model unavailable")}
	orch, store, notifier, conv := setup(t, fa)

	orch.HandleTurn(context.Background(), "c", []byte(`{"conversationId":"`+conv.ID+`","message":"hello"}`))

	require.Equal(t, []string{"start", "error", "end"}, notifier.types())
	require.Contains(t, notifier.sent[1].n.Message, "model unavailable")

	got, _ := store.Get(context.Background(), conv.ID)
	require.Len(t, got.Messages, 1)
	require.Equal(t, chat.RoleUser, got.Messages[0].Role)
	require.Equal(t, "hello", got.Messages[0].Content)
	require.Equal(t, 1, fa.cleanups)
}

func TestHandleTurnAgentPanic(t *testing.T) {
	fa := &fakeAgent{panicWith: "boom"}
	orch, store, notifier, conv := setup(t, fa)

	require.NotPanics(t, func() {
		orch.HandleTurn(context.Background(), "c", []byte(`{"conversationId":"`+conv.ID+`","message":"hello"}`))
	})

	require.Equal(t, []string{"start", "error", "end"}, notifier.types())
	got, _ := store.Get(context.Background(), conv.ID)
	require.Len(t, got.Messages, 1)
	require.Equal(t, 1, fa.cleanups)
}

func TestHandleTurnCreateFailureSkipsCleanup(t *testing.T) {
	fa := &fakeAgent{createErr: errors.New("no credentials")}
	orch, _, notifier, conv := setup(t, fa)

	orch.HandleTurn(context.Background(), "c", []byte(`{"conversationId":"`+conv.ID+`","message":"hello"}`))

	require.Equal(t, []string{"start", "error", "end"}, notifier.types())
	require.Equal(t, 0, fa.cleanups)
}

func TestHandleTurnEmptyReply(t *testing.T) {
	fa := &fakeAgent{reply: ""}
	orch, store, notifier, conv := setup(t, fa)

	orch.HandleTurn(context.Background(), "c", []byte(`{"conversationId":"`+conv.ID+`","message":"hello"}`))

	require.Equal(t, []string{"start", "end"}, notifier.types())
	got, _ := store.Get(context.Background(), conv.ID)
	require.Len(t, got.Messages, 1)
}

func TestHandleTurnRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing message": `{"conversationId":"abc"}`,
		"missing id":      `{"message":"hi"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			fa := &fakeAgent{reply: "x"}
			orch, store, notifier, conv := setup(t, fa)

			orch.HandleTurn(context.Background(), "c", []byte(raw))

			require.Equal(t, []string{"error"}, notifier.types())
			got, _ := store.Get(context.Background(), conv.ID)
			require.Empty(t, got.Messages)
			require.Empty(t, fa.prompts)
		})
	}
}

func TestHandleTurnUnknownConversation(t *testing.T) {
	fa := &fakeAgent{reply: "x"}
	orch, _, notifier, _ := setup(t, fa)

	orch.HandleTurn(context.Background(), "c", []byte(`{"conversationId":"missing","message":"hi"}`))

	require.Equal(t, []string{"error"}, notifier.types())
	require.Empty(t, fa.prompts)
}

func TestAgentSurvivesCancelledConnection(t *testing.T) {
	fa := &fakeAgent{reply: "done"}
	orch, store, _, conv := setup(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orch.HandleTurn(ctx, "c", []byte(`{"conversationId":"`+conv.ID+`","message":"hi"}`))

	require.NoError(t, fa.ctxErr)
	got, _ := store.Get(context.Background(), conv.ID)
	require.Len(t, got.Messages, 2)
}

func TestPromptIncludesHistory(t *testing.T) {
	fa := &fakeAgent{reply: "second answer"}
	orch, store, _, conv := setup(t, fa)
	ctx := context.Background()

	_, err := store.AddMessage(ctx, conv.ID, chat.RoleUser, "first question")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conv.ID, chat.RoleAssistant, "first answer")
	require.NoError(t, err)

	reply, err := orch.Chat(ctx, conv.ID, "second question")
	require.NoError(t, err)
	require.Equal(t, "second answer", reply.Response)
	require.Equal(t, conv.ID, reply.ConversationID)

	want := "previous conversation:\nUser: first question\nAssistant: first answer\n\nUser: second question"
	require.Equal(t, []string{want}, fa.prompts)
}

func TestBuildPrompt(t *testing.T) {
	require.Equal(t, "hi", orchestrator.BuildPrompt(nil, "hi"))

	history := []chat.Message{
		{Role: chat.RoleSystem, Content: "be nice"},
		{Role: chat.RoleUser, Content: "a"},
	}
	require.Equal(t, "previous conversation:\nSystem: be nice\nUser: a\n\nUser: b", orchestrator.BuildPrompt(history, "b"))
}

func TestChatErrors(t *testing.T) {
	fa := &fakeAgent{err: errors.New("nope")}
	orch, store, _, conv := setup(t, fa)
	ctx := context.Background()

	_, err := orch.Chat(ctx, "", "hi")
	require.ErrorIs(t, err, orchestrator.ErrInvalidTurn)

	_, err = orch.Chat(ctx, "missing", "hi")
	require.ErrorIs(t, err, chatservice.ErrConversationNotFound)

	_, err = orch.Chat(ctx, conv.ID, "hi")
	var agentErr *orchestrator.AgentExecutionError
	require.ErrorAs(t, err, &agentErr)

	got, _ := store.Get(ctx, conv.ID)
	require.Len(t, got.Messages, 1)
	require.Equal(t, 1, fa.cleanups)
}

func TestStreamEmitsInOrder(t *testing.T) {
	fa := &fakeAgent{reply: "ok"}
	orch, _, notifier, conv := setup(t, fa)

	var got []notify.Notification
	orch.Stream(context.Background(), orchestrator.Turn{ConversationID: conv.ID, Message: "hi"}, func(n notify.Notification) {
		got = append(got, n)
	})

	require.Len(t, got, 3)
	require.Equal(t, notify.TypeStart, got[0].Type)
	require.Equal(t, notify.TypeMessage, got[1].Type)
	require.Equal(t, notify.TypeEnd, got[2].Type)
	require.Empty(t, notifier.types(), "registry notifier is bypassed")
}

// blockingAgent runs until its context ends and records the state of the
// context Cleanup receives.
type blockingAgent struct {
	mu         sync.Mutex
	cleanupErr error
	cleanups   int
}

func (b *blockingAgent) Create(context.Context) (agent.Instance, error) { return b, nil }

func (b *blockingAgent) Run(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingAgent) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanups++
	b.cleanupErr = ctx.Err()
	return nil
}

func TestTimedOutTurnCleansUpWithLiveContext(t *testing.T) {
	store := chatservice.NewService("")
	conv, err := store.Create(context.Background(), "")
	require.NoError(t, err)

	slow := &blockingAgent{}
	orch := orchestrator.New(store, nil, slow, 50*time.Millisecond)

	_, err = orch.Chat(context.Background(), conv.ID, "hello")
	var execErr *orchestrator.AgentExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	slow.mu.Lock()
	defer slow.mu.Unlock()
	require.Equal(t, 1, slow.cleanups)
	require.NoError(t, slow.cleanupErr)
}
