package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

type helloMessage struct {
	// 客户端是否支持 Web Speech 识别
	Capture bool `json:"capture"`
}

type transcriptMessage struct {
	CaptureID uint64 `json:"captureId"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"isFinal"`
}

type captureErrorMessage struct {
	CaptureID uint64 `json:"captureId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type audioMessage struct {
	Data []byte `json:"data"`
}

type editMessage struct {
	Text string `json:"text"`
}

// handleWebSocket 一个连接对应一个会话，连接断开即销毁
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Ready(); err != nil {
		respondErr(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := newClient(conn)

	hello, err := readHello(conn)
	if err != nil {
		c.sendError("bad_request", err.Error())
		return
	}

	ctrl, info, err := h.sessions.Create(r.Context(), h.collaborators(c, hello))
	if err != nil {
		_, code := classify(err)
		c.sendError(code, err.Error())
		return
	}
	defer h.sessions.Remove(info.ID)

	c.setSessionID(info.ID)
	log.Printf("[websocket] session %s connected (capture=%v)", info.ID, hello.Capture)

	if err := c.send("session", info); err != nil {
		log.Printf("[websocket] write session failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, c)
	go forwardState(c, ctrl)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != info.ID {
			c.sendError("bad_request", "session mismatch")
			continue
		}

		if err := h.dispatch(c, ctrl, &msg); err != nil {
			_, code := classify(err)
			c.sendError(code, err.Error())
		}
	}
}

func readHello(conn *websocket.Conn) (helloMessage, error) {
	var msg inboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return helloMessage{}, fmt.Errorf("%w: read hello: %v", errBadRequest, err)
	}
	if msg.Type != "hello" {
		return helloMessage{}, fmt.Errorf("%w: expected hello, got %q", errBadRequest, msg.Type)
	}

	var hello helloMessage
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &hello); err != nil {
			return helloMessage{}, fmt.Errorf("%w: invalid hello payload", errBadRequest)
		}
	}
	return hello, nil
}

// collaborators 按配置选择浏览器转发或服务端火山引擎
func (h *Handler) collaborators(c *client, hello helloMessage) registry.Collaborators {
	collab := registry.Collaborators{
		Voice:   browserVoice{client: c},
		Capture: relayCapture(c, hello.Capture),
	}
	if h.speech.Enabled() {
		if h.serverASR {
			collab.Capture = h.speech.CaptureProvider(c.audio)
		}
		if h.serverTTS {
			collab.Voice = h.speech.Voice(c, h.sessions.Persona().VoiceID)
		}
	}
	return collab
}

func (h *Handler) dispatch(c *client, ctrl *session.Controller, msg *inboundMessage) error {
	switch msg.Type {
	case "start_capture":
		return ctrl.StartCapture()
	case "submit":
		return ctrl.Submit()
	case "cancel_capture":
		return ctrl.CancelCapture()
	case "dismiss_error":
		return ctrl.DismissError()

	case "edit":
		var edit editMessage
		if err := decodeData(msg.Data, &edit); err != nil {
			return err
		}
		return ctrl.EditBuffer(edit.Text)

	case "transcript":
		var tr transcriptMessage
		if err := decodeData(msg.Data, &tr); err != nil {
			return err
		}
		if s := c.current(tr.CaptureID); s != nil {
			s.push(session.Segment{Text: tr.Text, IsFinal: tr.IsFinal})
		}
		return nil

	case "capture_error":
		var ce captureErrorMessage
		if err := decodeData(msg.Data, &ce); err != nil {
			return err
		}
		if s := c.current(ce.CaptureID); s != nil {
			s.fail(session.NewTranscriptionError(ce.Code, ce.Message))
		}
		return nil

	case "capture_end":
		var cmd captureCommand
		if err := decodeData(msg.Data, &cmd); err != nil {
			return err
		}
		if s := c.current(cmd.CaptureID); s != nil {
			c.detach(s)
			s.end()
		}
		return nil

	case "audio":
		var audio audioMessage
		if err := decodeData(msg.Data, &audio); err != nil {
			return err
		}
		c.pushAudio(audio.Data)
		return nil

	default:
		return fmt.Errorf("%w: %s", errUnsupported, msg.Type)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid payload", errBadRequest)
	}
	return nil
}

// forwardState 把每次状态变化推给客户端，会话关闭时退出
func forwardState(c *client, ctrl *session.Controller) {
	snapshots, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	for snap := range snapshots {
		if err := c.send("state", snap); err != nil {
			log.Printf("[websocket] write state failed: %v", err)
			return
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
