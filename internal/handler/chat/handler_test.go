package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agentchat/backend/internal/service/agent"
	chatservice "github.com/zhouzirui/agentchat/backend/internal/service/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/orchestrator"
)

type stubInstance struct {
	reply string
	err   error
}

func (s stubInstance) Run(context.Context, string) (string, error) { return s.reply, s.err }
func (s stubInstance) Cleanup(context.Context) error              { return nil }

func setupRouter(inst stubInstance) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService("")
	factory := agent.FactoryFunc(func(context.Context) (agent.Instance, error) { return inst, nil })
	orch := orchestrator.New(chatSvc, nil, factory, time.Minute)
	handler := New(chatSvc, orch)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateConversation(t *testing.T) {
	r, _ := setupRouter(stubInstance{})

	resp := do(r, http.MethodPost, "/conversations", `{"title":"Plans"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["title"] != "Plans" || body["id"] == "" || body["createdAt"] == nil {
		t.Fatalf("unexpected body: %v", body)
	}

	resp = do(r, http.MethodPost, "/conversations", "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for empty body, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "New Chat") {
		t.Fatalf("expected default title, got %s", resp.Body.String())
	}
}

func TestCreateConversationInvalidBody(t *testing.T) {
	r, _ := setupRouter(stubInstance{})
	resp := do(r, http.MethodPost, "/conversations", `{`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListAndGetConversation(t *testing.T) {
	r, svc := setupRouter(stubInstance{})
	conv, _ := svc.Create(context.Background(), "first")

	resp := do(r, http.MethodGet, "/conversations", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list struct {
		Conversations []struct {
			ID           string `json:"id"`
			MessageCount int    `json:"messageCount"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].ID != conv.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	if resp := do(r, http.MethodGet, "/conversations/"+conv.ID, ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/conversations/missing", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestFreshConversationHasEmptyMessageList(t *testing.T) {
	r, svc := setupRouter(stubInstance{})
	conv, _ := svc.Create(context.Background(), "")

	resp := do(r, http.MethodGet, "/conversations/"+conv.ID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"messages":[]`) {
		t.Fatalf("expected empty message array, got %s", resp.Body.String())
	}
}

func TestDeleteConversation(t *testing.T) {
	r, svc := setupRouter(stubInstance{})
	conv, _ := svc.Create(context.Background(), "")

	if resp := do(r, http.MethodDelete, "/conversations/"+conv.ID, ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodDelete, "/conversations/"+conv.ID, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestUpdateSettings(t *testing.T) {
	r, svc := setupRouter(stubInstance{})
	conv, _ := svc.Create(context.Background(), "")

	resp := do(r, http.MethodPut, "/conversations/"+conv.ID+"/settings", `{"model":"gpt-x","temperature":0.3}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	got, _ := svc.Get(context.Background(), conv.ID)
	if got.Model != "gpt-x" || got.Settings["temperature"] != 0.3 {
		t.Fatalf("settings not applied: %+v", got)
	}
	if got.Settings["systemPrompt"] != "" {
		t.Fatalf("unspecified keys must be preserved")
	}

	if resp := do(r, http.MethodPut, "/conversations/missing/settings", `{}`); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	r, svc := setupRouter(stubInstance{reply: "hello back"})
	conv, _ := svc.Create(context.Background(), "")

	resp := do(r, http.MethodPost, "/chat", `{"conversationId":"`+conv.ID+`","message":"hello"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reply orchestrator.Reply
	if err := json.Unmarshal(resp.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if reply.Response != "hello back" || reply.ConversationID != conv.ID {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if resp := do(r, http.MethodPost, "/chat", `{"message":"hello"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/chat", `{"conversationId":"missing","message":"hello"}`); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestChatEndpointAgentFailure(t *testing.T) {
	r, svc := setupRouter(stubInstance{err: errors.New("upstream down")})
	conv, _ := svc.Create(context.Background(), "")

	resp := do(r, http.MethodPost, "/chat", `{"conversationId":"`+conv.ID+`","message":"hello"}`)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	got, _ := svc.Get(context.Background(), conv.ID)
	if len(got.Messages) != 1 {
		t.Fatalf("expected user message to be kept, got %d messages", len(got.Messages))
	}
}

func TestChatStream(t *testing.T) {
	r, svc := setupRouter(stubInstance{reply: "streamed"})
	conv, _ := svc.Create(context.Background(), "")

	resp := do(r, http.MethodGet, "/chat/stream?conversationId="+conv.ID+"&message=hi", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(strings.NewReader(resp.Body.String()))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	want := []string{"start", "message", "end"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, events)
	}

	if resp := do(r, http.MethodGet, "/chat/stream?message=hi", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
