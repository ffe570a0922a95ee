package conversation

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

// 浏览器负责识别与朗读时，服务端只下发指令并转发客户端上报的结果。

const relayBuffer = 32

type captureStartMessage struct {
	CaptureID  uint64 `json:"captureId"`
	Locale     string `json:"locale"`
	Continuous bool   `json:"continuous"`
	Interim    bool   `json:"interimResults"`
}

type captureCommand struct {
	CaptureID uint64 `json:"captureId"`
}

// relayTranscriber 实现 session.Transcriber，识别由客户端 Web Speech API 完成
type relayTranscriber struct {
	client *client
}

func relayCapture(c *client, supported bool) session.CaptureProvider {
	return session.CaptureProviderFunc(func(context.Context) session.Capability {
		if !supported {
			return session.Unavailable
		}
		return session.Available(&relayTranscriber{client: c})
	})
}

func (t *relayTranscriber) Start(_ context.Context, opts session.CaptureOptions) (session.CaptureStream, error) {
	c := t.client

	c.mu.Lock()
	c.nextCap++
	s := newRelayStream(c, c.nextCap)
	prev := c.stream
	c.stream = s
	c.mu.Unlock()

	if prev != nil {
		prev.end()
	}

	err := c.send("capture_start", captureStartMessage{
		CaptureID:  s.id,
		Locale:     opts.Locale,
		Continuous: opts.Continuous,
		Interim:    opts.Interim,
	})
	if err != nil {
		c.detach(s)
		s.end()
		return nil, err
	}
	return s, nil
}

// current 返回匹配 captureID 的采集流，id 为 0 时取当前流
func (c *client) current(id uint64) *relayStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || (id != 0 && c.stream.id != id) {
		return nil
	}
	return c.stream
}

func (c *client) detach(s *relayStream) {
	c.mu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	c.mu.Unlock()
}

type relayStream struct {
	client *client
	id     uint64

	segments chan session.Segment
	errs     chan error

	mu     sync.Mutex
	closed bool
}

func newRelayStream(c *client, id uint64) *relayStream {
	return &relayStream{
		client:   c,
		id:       id,
		segments: make(chan session.Segment, relayBuffer),
		errs:     make(chan error, 1),
	}
}

func (s *relayStream) Segments() <-chan session.Segment { return s.segments }
func (s *relayStream) Errors() <-chan error             { return s.errs }

// Stop 请求客户端停止，流在客户端回报 capture_end 后结束
func (s *relayStream) Stop() {
	if err := s.client.send("capture_stop", captureCommand{CaptureID: s.id}); err != nil {
		log.Printf("[websocket] write capture_stop failed: %v", err)
		s.client.detach(s)
		s.end()
	}
}

func (s *relayStream) Abort() {
	s.client.detach(s)
	s.end()
	if err := s.client.send("capture_abort", captureCommand{CaptureID: s.id}); err != nil {
		log.Printf("[websocket] write capture_abort failed: %v", err)
	}
}

// push 不阻塞：读协程不能被控制器反压
func (s *relayStream) push(seg session.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.segments <- seg:
	default:
		log.Printf("[websocket] capture %d: segment dropped", s.id)
	}
}

func (s *relayStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

func (s *relayStream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.segments)
	close(s.errs)
}

// browserVoice 实现 session.VoiceOutput，朗读由客户端 speechSynthesis 完成
type browserVoice struct {
	client *client
}

type speakMessage struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
}

func (v browserVoice) Speak(_ context.Context, text, locale string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return v.client.send("speak", speakMessage{Text: text, Locale: locale})
}

func (v browserVoice) CancelAll() { v.client.StopAudio() }
