package speech

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeVolcengine 模拟火山引擎 WebSocket 端点，每个连接交给 handle 处理
func fakeVolcengine(t *testing.T, handle func(t *testing.T, r *http.Request, conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(t, r, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// slowVolcengine 在升级前挂起 delay，模拟握手迟迟不返回的上游
func slowVolcengine(t *testing.T, delay time.Duration) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		waitClosed(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := DecodeMessage(bytes.NewReader(data))
	require.NoError(t, err)
	return msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg *Message) {
	t.Helper()
	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func writeJSONFrame(t *testing.T, conn *websocket.Conn, flags MessageFlags, seq int32, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	compressed, err := CompressPayload(payload, GzipCompression)
	require.NoError(t, err)
	writeFrame(t, conn, &Message{
		Header:   NewHeader(FullServerResponse, flags, JSONSerialization, GzipCompression),
		Sequence: seq,
		Payload:  compressed,
	})
}

// waitClosed 阻塞直到客户端断开
func waitClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
