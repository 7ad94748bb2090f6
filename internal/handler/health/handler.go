package health

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agentchat/backend/internal/model/attachment"
	"github.com/zhouzirui/agentchat/backend/pkg/utils"
)

type database interface {
	IsConnected() bool
}

type storageMode interface {
	Mode() attachment.Backend
}

type connections interface {
	Count() int
}

// Handler reports which backends the process is running against.
type Handler struct {
	db      database
	storage storageMode
	conns   connections
	now     func() time.Time
}

func New(db database, storage storageMode, conns connections) *Handler {
	return &Handler{db: db, storage: storage, conns: conns, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "local_mode"
	if h.db != nil && h.db.IsConnected() {
		database = "connected"
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   h.now().UTC().Format(time.RFC3339),
		"database":    database,
		"storage":     h.storage.Mode(),
		"connections": h.conns.Count(),
	})
}
