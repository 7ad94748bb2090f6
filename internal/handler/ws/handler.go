package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// TurnHandler processes one inbound chat frame.
type TurnHandler interface {
	HandleTurn(ctx context.Context, clientID string, raw []byte)
}

// Handler WebSocket 聊天处理器
type Handler struct {
	registry *notify.Registry
	turns    TurnHandler
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(registry *notify.Registry, turns TurnHandler) *Handler {
	return &Handler{
		registry: registry,
		turns:    turns,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{clientID}", h.handleWebSocket)
}

// handleWebSocket 每个连接一个读循环，同一连接上的对话按顺序处理
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		http.Error(w, "clientID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	ch := notify.NewWSChannel(conn)
	defer ch.Close()

	h.registry.Register(clientID, ch)
	defer h.registry.Unregister(clientID, ch)

	log.Printf("[ws] new connection client=%s", clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go pingLoop(ctx, ch)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error client=%s: %v", clientID, err)
			}
			log.Printf("[ws] connection closed client=%s", clientID)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		h.turns.HandleTurn(ctx, clientID, raw)
		// 对话可能耗时较长，处理完后再续期读超时
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, ch *notify.WSChannel) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.Ping(); err != nil {
				return
			}
		}
	}
}
