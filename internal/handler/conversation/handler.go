package conversation

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/eigo-partner/backend/internal/middleware"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	speechservice "github.com/zhouzirui/eigo-partner/backend/internal/service/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
	"github.com/zhouzirui/eigo-partner/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler 会话相关的 HTTP/WebSocket 处理器
type Handler struct {
	sessions  *registry.Service
	speech    *speechservice.Service
	serverASR bool
	serverTTS bool

	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// Options 处理器配置
type Options struct {
	ASRProvider    speechmodel.Provider
	TTSProvider    speechmodel.Provider
	AllowedOrigins []string
}

// New 创建会话处理器，speechSvc 为 nil 时识别与朗读都交给浏览器
func New(sessions *registry.Service, speechSvc *speechservice.Service, opts Options) *Handler {
	origins := opts.AllowedOrigins
	return &Handler{
		sessions:  sessions,
		speech:    speechSvc,
		serverASR: opts.ASRProvider == speechmodel.ProviderVolcengine,
		serverTTS: opts.TTSProvider == speechmodel.ProviderVolcengine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(origins, r)
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		pingInterval: pingInterval,
	}
}

// RegisterRoutes 注册会话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/ws", h.handleWebSocket)
		r.Get("/{sessionID}", h.handleGetSession)
		r.Get("/{sessionID}/events", h.handleEvents)
		r.Post("/{sessionID}/messages", h.handlePostMessage)
	})
}

type sessionView struct {
	Session  chat.Session     `json:"session"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, info, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionView{Session: info, Snapshot: ctrl.Snapshot()})
}

// handlePostMessage 文字输入：写入缓冲区后提交，回复通过状态流返回
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctrl, info, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondErr(w, err)
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondErr(w, fmt.Errorf("%w: invalid request body", errBadRequest))
		return
	}

	if err := ctrl.EditBuffer(payload.Text); err != nil {
		respondErr(w, err)
		return
	}
	if err := ctrl.Submit(); err != nil {
		respondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, sessionView{Session: info, Snapshot: ctrl.Snapshot()})
}

// handleEvents 以 SSE 推送状态快照，供不使用 WebSocket 的观察者
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctrl, info, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondErr(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	snapshots, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	log.Printf("[sse] opening state stream for session=%s", info.ID)
	for {
		select {
		case <-r.Context().Done():
			log.Printf("[sse] client left session=%s", info.ID)
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"id": info.ID})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "state", snap); err != nil {
				log.Printf("[sse] write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
