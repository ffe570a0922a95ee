package conversation

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second

	maxFrameSize   = 1 << 20
	audioQueueSize = 64
)

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// client 包装一个浏览器连接。gorilla 的连接只允许一个写者，所有写都经过 writeMu
type client struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	sessionID string

	mu      sync.Mutex
	stream  *relayStream
	nextCap uint64

	audio chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:  conn,
		audio: make(chan []byte, audioQueueSize),
	}
}

func (c *client) setSessionID(id string) {
	c.writeMu.Lock()
	c.sessionID = id
	c.writeMu.Unlock()
}

func (c *client) send(msgType string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *client) sendError(code, message string) {
	if err := c.send("error", map[string]string{"code": code, "message": message}); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// pushAudio 把客户端上传的 PCM 分片交给服务端识别，队列满时丢弃
func (c *client) pushAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	select {
	case c.audio <- chunk:
	default:
		log.Printf("[websocket] audio queue full, dropping %d bytes", len(chunk))
	}
}

// PlayAudio 推送服务端合成的音频
func (c *client) PlayAudio(chunk speechmodel.AudioChunk) error {
	return c.send("audio", chunk)
}

// StopAudio 让客户端停止播放
func (c *client) StopAudio() {
	if err := c.send("cancel_speech", nil); err != nil {
		log.Printf("[websocket] write cancel_speech failed: %v", err)
	}
}
