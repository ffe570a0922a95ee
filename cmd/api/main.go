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

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/handler"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/ai"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	tutor, ok := personaStore.FindByID(cfg.Session.PersonaID)
	if !ok {
		log.Fatalf("unknown SESSION_PERSONA %q", cfg.Session.PersonaID)
	}

	// 缺少模型凭证时服务照常启动，由 /api/config 报告、会话创建返回 503
	var chatService session.ChatService
	aiService, chatErr := ai.NewService(ctx, tutor, cfg.AI)
	if chatErr != nil {
		log.Printf("warning: chat service unavailable: %v", chatErr)
	} else {
		chatService = aiService
		log.Printf("AI service initialized (provider=%s model=%s)", cfg.AI.Provider, cfg.AI.ModelName())
	}

	var speechService *speech.Service
	if cfg.Speech.ASRProvider == speechmodel.ProviderVolcengine || cfg.Speech.TTSProvider == speechmodel.ProviderVolcengine {
		volc := cfg.Speech.Volcengine
		speechService = speech.NewService(&volc)
		log.Printf("Speech service initialized (asr=%s tts=%s)", cfg.Speech.ASRProvider, cfg.Speech.TTSProvider)
	} else {
		log.Println("speech recognition and synthesis handled by the browser")
	}

	sessions := registry.NewService(chatService, chatErr, tutor, cfg.Session)
	router := handler.NewRouter(cfg, personaStore, sessions, speechService)

	startServer(ctx, cfg.Server, router)

	sessions.CloseAll()
	if speechService != nil {
		speechService.Cleanup()
	}
	log.Println("shutdown complete")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Eigo Partner backend listening on %s", addr)
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
