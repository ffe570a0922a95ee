package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	personaModel "github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

type echoChat struct{}

func (echoChat) Send(_ context.Context, utterance string, _ chat.Transcript) (session.Reply, error) {
	return session.Reply{Text: utterance}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0", AllowedOrigins: []string{"http://localhost:5173"}},
		AI:     config.AIConfig{Provider: config.ProviderGemini, GeminiModel: "gemini-2.5-flash"},
		Speech: config.SpeechConfig{
			ASRProvider: speechmodel.ProviderBrowser,
			TTSProvider: speechmodel.ProviderVolcengine,
		},
		Session: config.SessionConfig{PersonaID: personaModel.DefaultID, Locale: "en-US", ChatTimeout: time.Second, NoticeTTL: time.Second},
	}
}

func newRouter(t *testing.T, chatSvc session.ChatService, chatErr error) (http.Handler, *registry.Service) {
	t.Helper()
	cfg := testConfig()
	store := personaModel.NewMemoryStore(personaModel.Seed())
	tutor, ok := store.FindByID(cfg.Session.PersonaID)
	require.True(t, ok)

	reg := registry.NewService(chatSvc, chatErr, tutor, cfg.Session)
	t.Cleanup(reg.CloseAll)
	return NewRouter(cfg, store, reg, nil), reg
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHealth(t *testing.T) {
	h, reg := newRouter(t, echoChat{}, nil)
	_, _, err := reg.Create(context.Background(), registry.Collaborators{})
	require.NoError(t, err)

	status, body := getJSON(t, h, "/api/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["sessions"])
}

func TestConfigReady(t *testing.T) {
	h, _ := newRouter(t, echoChat{}, nil)

	status, body := getJSON(t, h, "/api/config")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "gemini", body["provider"])
	assert.Equal(t, "gemini-2.5-flash", body["model"])
	assert.Equal(t, "kai", body["persona"])
	assert.NotContains(t, body, "error")

	// 未启用服务端语音时回落到浏览器
	speech := body["speech"].(map[string]any)
	assert.Equal(t, "browser", speech["tts"])
	assert.Equal(t, false, speech["enabled"])
}

func TestConfigReportsConfigurationError(t *testing.T) {
	h, _ := newRouter(t, nil, errors.New("GEMINI_API_KEY (or API_KEY) is not set"))

	_, body := getJSON(t, h, "/api/config")
	assert.Equal(t, false, body["ready"])
	assert.Contains(t, body["error"], "GEMINI_API_KEY")

	status, errBody := getJSON(t, h, "/api/sessions/ws")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "configuration_error", errBody["error"].(map[string]any)["code"])
}

func TestPersonaRoute(t *testing.T) {
	h, _ := newRouter(t, echoChat{}, nil)

	status, body := getJSON(t, h, "/api/persona")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Kai", body["name"])
}

func TestCORSApplied(t *testing.T) {
	h, _ := newRouter(t, echoChat{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}
