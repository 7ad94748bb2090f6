package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/agentchat/backend/internal/config"
	"github.com/zhouzirui/agentchat/backend/internal/handler"
	"github.com/zhouzirui/agentchat/backend/internal/repository/records"
	"github.com/zhouzirui/agentchat/backend/internal/service/agent"
	"github.com/zhouzirui/agentchat/backend/internal/service/chat"
	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
	"github.com/zhouzirui/agentchat/backend/internal/service/orchestrator"
	"github.com/zhouzirui/agentchat/backend/internal/storage"
	"github.com/zhouzirui/agentchat/backend/internal/storage/local"
	"github.com/zhouzirui/agentchat/backend/internal/storage/remote"
)

func main() {
	addr := pflag.String("addr", "", "listen address, overrides PORT")
	configFile := pflag.String("config", "", "optional YAML config file, overrides CONFIG_FILE")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	recordStore := records.Connect(ctx, cfg.Database)
	defer recordStore.Close()

	localStore, err := local.Open(cfg.Storage.LocalPath)
	if err != nil {
		log.Fatalf("failed to open local storage: %v", err)
	}
	defer localStore.Close()

	var remoteBackend storage.RemoteBackend
	if cfg.Storage.RemoteEnabled && recordStore.IsConnected() {
		remoteBackend = remote.New(recordStore.Pool())
	}
	probeTimeout := cfg.Database.ConnectTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	gateway := storage.New(probeCtx, localStore, remoteBackend)
	cancel()

	chatService := chat.NewService(
		cfg.Chat.ConversationsPath,
		chat.WithRecordStore(recordStore, cfg.Chat.DefaultOwner),
	)

	factory, err := agent.FromConfig(ctx, cfg)
	if err != nil {
		log.Printf("warning: failed to initialize %s agent: %v", cfg.Agent.Provider, err)
		log.Println("continuing with the echo agent - 请检查模型相关环境变量")
		factory = agent.EchoFactory{}
	}

	registry := notify.NewRegistry()
	orch := orchestrator.New(chatService, registry, factory, cfg.Agent.Timeout)

	router := handler.NewRouter(handler.Services{
		Records:      recordStore,
		Storage:      gateway,
		Chat:         chatService,
		Registry:     registry,
		Orchestrator: orch,
		DefaultOwner: cfg.Chat.DefaultOwner,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("agentchat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
