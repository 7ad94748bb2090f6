package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/agentchat/backend/internal/handler/chat"
	"github.com/zhouzirui/agentchat/backend/internal/handler/files"
	"github.com/zhouzirui/agentchat/backend/internal/handler/health"
	"github.com/zhouzirui/agentchat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/agentchat/backend/internal/middleware"
	"github.com/zhouzirui/agentchat/backend/internal/repository/records"
	chatService "github.com/zhouzirui/agentchat/backend/internal/service/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
	"github.com/zhouzirui/agentchat/backend/internal/service/orchestrator"
	"github.com/zhouzirui/agentchat/backend/internal/storage"
)

// Services 汇总路由需要的核心服务。
type Services struct {
	Records      *records.Store
	Storage      *storage.Gateway
	Chat         *chatService.Service
	Registry     *notify.Registry
	Orchestrator *orchestrator.Orchestrator
	DefaultOwner string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	healthHandler := health.New(svc.Records, svc.Storage, svc.Registry)
	chatHandler := chat.New(svc.Chat, svc.Orchestrator)
	filesHandler := files.New(svc.Storage, svc.DefaultOwner)
	wsHandler := ws.New(svc.Registry, svc.Orchestrator)

	r.Route("/api", func(api chi.Router) {
		healthHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		filesHandler.RegisterRoutes(api)
	})

	wsHandler.RegisterRoutes(r)

	return r
}
