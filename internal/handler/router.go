package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/handler/conversation"
	personaHandler "github.com/zhouzirui/eigo-partner/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/eigo-partner/backend/internal/middleware"
	personaModel "github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	speechService "github.com/zhouzirui/eigo-partner/backend/internal/service/speech"
	"github.com/zhouzirui/eigo-partner/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. speechSvc may be nil.
func NewRouter(cfg *config.Config, personas personaModel.Store, sessions *registry.Service, speechSvc *speechService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	conversationHandler := conversation.New(sessions, speechSvc, conversation.Options{
		ASRProvider:    cfg.Speech.ASRProvider,
		TTSProvider:    cfg.Speech.TTSProvider,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"sessions": sessions.Count(),
			})
		})

		// 前端据此决定是否提示缺少配置
		api.Get("/config", func(w http.ResponseWriter, r *http.Request) {
			body := map[string]any{
				"ready":    true,
				"provider": cfg.AI.Provider,
				"model":    cfg.AI.ModelName(),
				"locale":   cfg.Session.Locale,
				"persona":  sessions.Persona().ID,
				"speech": map[string]any{
					"asr":     speechProvider(cfg.Speech.ASRProvider, speechSvc),
					"tts":     speechProvider(cfg.Speech.TTSProvider, speechSvc),
					"enabled": speechSvc.Enabled(),
				},
			}
			if err := sessions.Ready(); err != nil {
				body["ready"] = false
				body["error"] = err.Error()
			}
			utils.RespondJSON(w, http.StatusOK, body)
		})

		personaHandler.New(personas, sessions.Persona().ID).RegisterRoutes(api)
		conversationHandler.RegisterRoutes(api)
	})

	return r
}

// speechProvider 服务端语音未启用时回落到浏览器
func speechProvider(p speechmodel.Provider, svc *speechService.Service) speechmodel.Provider {
	if !svc.Enabled() {
		return speechmodel.ProviderBrowser
	}
	return p
}
