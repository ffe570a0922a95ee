package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToContentsMapsRoles(t *testing.T) {
	system, contents := toContents([]*schema.Message{
		schema.SystemMessage("You are Kai."),
		schema.AssistantMessage("Welcome!", nil),
		schema.UserMessage("hello there"),
		schema.UserMessage("   "),
		nil,
	})

	require.NotNil(t, system)
	require.Len(t, system.Parts, 1)
	assert.Equal(t, "You are Kai.", system.Parts[0].Text)

	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleModel), contents[0].Role)
	assert.Equal(t, "Welcome!", contents[0].Parts[0].Text)
	assert.Equal(t, string(genai.RoleUser), contents[1].Role)
	assert.Equal(t, "hello there", contents[1].Parts[0].Text)
}

func TestNewChatModelValidatesConfig(t *testing.T) {
	_, err := NewChatModel(context.Background(), &Config{Model: "gemini-2.5-flash"})
	require.Error(t, err)

	_, err = NewChatModel(context.Background(), &Config{APIKey: "k"})
	require.Error(t, err)
}

type capturedRequest struct {
	path string
	body map[string]any
}

func newGeminiServer(t *testing.T, reply string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 5, "totalTokenCount": 17},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateCallsGenerateContent(t *testing.T) {
	var captured capturedRequest
	srv := newGeminiServer(t, "Hi! How are you?", &captured)

	temperature := float32(0.4)
	cm, err := NewChatModel(context.Background(), &Config{
		APIKey:      "test-key",
		Model:       "gemini-2.5-flash",
		BaseURL:     srv.URL,
		Temperature: &temperature,
	})
	require.NoError(t, err)

	msg, err := cm.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are Kai."),
		schema.UserMessage("hello there"),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.Assistant, msg.Role)
	assert.Equal(t, "Hi! How are you?", msg.Content)
	assert.Equal(t, "STOP", msg.ResponseMeta.FinishReason)
	require.NotNil(t, msg.ResponseMeta.Usage)
	assert.Equal(t, 17, msg.ResponseMeta.Usage.TotalTokens)

	assert.True(t, strings.HasSuffix(captured.path, "models/gemini-2.5-flash:generateContent"), captured.path)
	contents, ok := captured.body["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 1)
	assert.Contains(t, captured.body, "systemInstruction")
}

func TestGenerateSendsOpeningModelTurn(t *testing.T) {
	var captured capturedRequest
	srv := newGeminiServer(t, "Nice to meet you!", &captured)

	cm, err := NewChatModel(context.Background(), &Config{APIKey: "k", Model: "gemini-2.5-flash", BaseURL: srv.URL})
	require.NoError(t, err)

	msg, err := cm.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are Kai."),
		schema.AssistantMessage("Hey there! I'm Kai. What would you like to talk about?", nil),
		schema.UserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you!", msg.Content)

	contents, ok := captured.body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 2)

	first := contents[0].(map[string]any)
	assert.Equal(t, "model", first["role"])
	assert.Equal(t, "Hey there! I'm Kai. What would you like to talk about?", first["parts"].([]any)[0].(map[string]any)["text"])
	last := contents[1].(map[string]any)
	assert.Equal(t, "user", last["role"])
}

func TestGenerateHonoursModelOption(t *testing.T) {
	var captured capturedRequest
	srv := newGeminiServer(t, "ok", &captured)

	cm, err := NewChatModel(context.Background(), &Config{APIKey: "k", Model: "gemini-2.5-flash", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")}, model.WithModel("gemini-2.5-pro"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(captured.path, "models/gemini-2.5-pro:generateContent"), captured.path)
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	cm, err := NewChatModel(context.Background(), &Config{APIKey: "k", Model: "m", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.SystemMessage("only system")})
	require.Error(t, err)
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cm, err := NewChatModel(context.Background(), &Config{APIKey: "k", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
}
