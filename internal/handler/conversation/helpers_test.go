package conversation

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

const waitFor = 5 * time.Second

// scriptedChat 返回固定回复；release 非空时等待放行
type scriptedChat struct {
	reply   string
	release chan struct{}
}

func (c *scriptedChat) Send(ctx context.Context, _ string, _ chat.Transcript) (session.Reply, error) {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return session.Reply{}, ctx.Err()
		}
	}
	return session.Reply{Text: c.reply}, nil
}

func newTestServer(t *testing.T, chatSvc session.ChatService) (*httptest.Server, *registry.Service) {
	t.Helper()

	var chatErr error
	if chatSvc == nil {
		chatErr = session.ErrConfiguration
	}
	reg := registry.NewService(chatSvc, chatErr, persona.Seed()[0], config.SessionConfig{
		Locale:      "en-US",
		ChatTimeout: 2 * time.Second,
		NoticeTTL:   time.Minute,
	})

	h := New(reg, nil, Options{AllowedOrigins: []string{"*"}})
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) { h.RegisterRoutes(api) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(reg.CloseAll)
	return srv, reg
}

type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type wsClient struct {
	conn      *websocket.Conn
	sessionID string
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect 完成 hello 握手并等待 session 帧
func connect(t *testing.T, srv *httptest.Server, capture bool) *wsClient {
	t.Helper()
	c := &wsClient{conn: dial(t, srv)}
	c.send(t, "hello", map[string]any{"capture": capture})

	f := c.expect(t, "session")
	var info chat.Session
	require.NoError(t, json.Unmarshal(f.Data, &info))
	require.NotEmpty(t, info.ID)
	c.sessionID = info.ID
	return c
}

func (c *wsClient) send(t *testing.T, msgType string, data any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, c.conn.WriteJSON(msg))
}

func (c *wsClient) read(t *testing.T) frame {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	var f frame
	require.NoError(t, c.conn.ReadJSON(&f))
	return f
}

// expect 跳过其他帧，直到收到指定类型
func (c *wsClient) expect(t *testing.T, msgType string) frame {
	t.Helper()
	for {
		if f := c.read(t); f.Type == msgType {
			return f
		}
	}
}

func (c *wsClient) waitState(t *testing.T, match func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	for {
		f := c.expect(t, "state")
		var snap session.Snapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		if match(snap) {
			return snap
		}
	}
}

func (c *wsClient) errorCode(t *testing.T) string {
	t.Helper()
	f := c.expect(t, "error")
	var body map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &body))
	return body["code"]
}
