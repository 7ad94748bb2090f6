package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agentchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/agentchat/backend/internal/service/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
	"github.com/zhouzirui/agentchat/backend/internal/service/orchestrator"
	"github.com/zhouzirui/agentchat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	orch    *orchestrator.Orchestrator
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, orch *orchestrator.Orchestrator) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		orch:    orch,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.handleCreateConversation)
		r.Get("/", h.handleListConversations)
		r.Get("/{id}", h.handleGetConversation)
		r.Delete("/{id}", h.handleDeleteConversation)
		r.Put("/{id}/settings", h.handleUpdateSettings)
	})
	r.Post("/chat", h.handleChat)
	r.Get("/chat/stream", h.handleChatStream)
}

// handleCreateConversation 创建会话，请求体可以为空
func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	conv, err := h.chatSvc.Create(r.Context(), payload.Title)
	if err != nil {
		log.Printf("[chat] create conversation failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":        conv.ID,
		"title":     conv.Title,
		"createdAt": conv.CreatedAt,
	})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs := h.chatSvc.List(r.Context())
	summaries := make([]chat.Summary, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, c.Summarize())
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	ok, err := h.chatSvc.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondSuccess(w, true)
}

// handleUpdateSettings 只合并请求中出现的字段
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Model        *string  `json:"model"`
		Temperature  *float64 `json:"temperature"`
		MaxTokens    *int     `json:"maxTokens"`
		SystemPrompt *string  `json:"systemPrompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	partial := make(map[string]any, 4)
	if payload.Model != nil {
		partial["model"] = *payload.Model
	}
	if payload.Temperature != nil {
		partial["temperature"] = *payload.Temperature
	}
	if payload.MaxTokens != nil {
		partial["maxTokens"] = *payload.MaxTokens
	}
	if payload.SystemPrompt != nil {
		partial["systemPrompt"] = *payload.SystemPrompt
	}

	if err := h.chatSvc.UpdateSettings(r.Context(), chi.URLParam(r, "id"), partial); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondSuccess(w, true)
}

// handleChat 同步对话，不经过 WebSocket
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var turn orchestrator.Turn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.orch.Chat(r.Context(), turn.ConversationID, turn.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleChatStream 以 SSE 推送单轮对话的各个阶段
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	turn := orchestrator.Turn{
		ConversationID: r.URL.Query().Get("conversationId"),
		Message:        r.URL.Query().Get("message"),
	}
	if turn.ConversationID == "" || turn.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, orchestrator.ErrInvalidTurn.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	// 客户端断开后停止推送，对话本身照常完成
	gone := false
	h.orch.Stream(r.Context(), turn, func(n notify.Notification) {
		if gone {
			return
		}
		if err := utils.SendSSEEvent(w, flusher, n.Type, n); err != nil {
			log.Printf("[chat] stream to client closed: %v", err)
			gone = true
		}
	})
}

func respondServiceError(w http.ResponseWriter, err error) {
	var agentErr *orchestrator.AgentExecutionError
	switch {
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, orchestrator.ErrInvalidTurn):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &agentErr):
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		log.Printf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
