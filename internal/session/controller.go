package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
)

const (
	DefaultChatTimeout = 30 * time.Second
	DefaultNoticeTTL   = 3 * time.Second
)

// Options wires a Controller to its collaborators.
type Options struct {
	ID      string
	Persona persona.Persona
	Locale  string

	Chat    ChatService
	Voice   VoiceOutput
	Capture CaptureProvider

	ChatTimeout time.Duration
	NoticeTTL   time.Duration

	// Clock and ID sources, replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

type envelope struct {
	ev    Event
	reply chan error
}

// Controller owns one conversation session. All state changes happen on a
// single event-loop goroutine; public methods post events and wait for the
// transition result.
type Controller struct {
	opts        Options
	chat        ChatService
	voice       VoiceOutput
	transcriber Transcriber

	ctx    context.Context
	cancel context.CancelFunc

	inbox chan envelope
	done  chan struct{}

	// loop-owned
	snap       Snapshot
	stream     CaptureStream
	streamGen  uint64
	draining   map[uint64]CaptureStream // stopped, waiting for the final segment
	cancelChat context.CancelFunc
	noticeTTL  *time.Timer

	mu      sync.RWMutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int

	closeOnce sync.Once
}

// New builds a controller and starts its event loop. Capture capability is
// resolved once here and never re-evaluated.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Chat == nil {
		return nil, ErrConfiguration
	}
	if opts.Voice == nil {
		opts.Voice = noopVoice{}
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = DefaultChatTimeout
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.ID == "" {
		opts.ID = opts.NewID()
	}
	if opts.Locale == "" {
		opts.Locale = opts.Persona.Locale
	}

	capability := Unavailable
	if opts.Capture != nil {
		capability = opts.Capture.Resolve(ctx)
	}

	var seed chat.Transcript
	if opts.Persona.OpeningLine != "" {
		seed = seed.Append(chat.Message{
			ID:        opts.Persona.ID + "-intro",
			Text:      opts.Persona.OpeningLine,
			Sender:    chat.SenderAssistant,
			CreatedAt: opts.Now(),
		})
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Controller{
		opts:        opts,
		chat:        opts.Chat,
		voice:       opts.Voice,
		transcriber: capability.Transcriber,
		ctx:         loopCtx,
		cancel:      cancel,
		inbox:       make(chan envelope),
		done:        make(chan struct{}),
		snap:        NewSnapshot(opts.ID, capability.Available, seed),
		draining:    make(map[uint64]CaptureStream),
		subs:        make(map[int]chan Snapshot),
	}
	c.current = c.snap

	go c.loop()
	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.opts.ID }

// StartCapture begins listening for speech.
func (c *Controller) StartCapture() error { return c.do(StartCaptureEvent{}) }

// PartialTranscript replaces the buffer with an interim hypothesis.
func (c *Controller) PartialTranscript(text string) error {
	return c.do(SegmentEvent{Text: text})
}

// FinalTranscript replaces the buffer with the trimmed final text.
func (c *Controller) FinalTranscript(text string) error {
	return c.do(SegmentEvent{Text: text, Final: true})
}

// EditBuffer sets the pending input from the keyboard. Only allowed while Idle.
func (c *Controller) EditBuffer(text string) error {
	return c.do(EditBufferEvent{Text: text})
}

// Submit sends the pending input to the chat service. It returns once the
// user turn is recorded; the reply arrives asynchronously.
func (c *Controller) Submit() error {
	return c.do(SubmitEvent{MessageID: c.opts.NewID(), At: c.opts.Now()})
}

// CancelCapture aborts the running capture and discards the buffer.
func (c *Controller) CancelCapture() error { return c.do(CancelCaptureEvent{}) }

// DismissError clears the error notice and leaves the Error state.
func (c *Controller) DismissError() error { return c.do(DismissErrorEvent{}) }

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Subscribe streams a snapshot after every transition. Slow readers only see
// the newest snapshot. The channel is closed when the session closes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.current
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Done is closed once the session has been torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Close stops capture, cancels speech and abandons any chat request.
// It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		_ = c.do(CloseEvent{})
		<-c.done
	})
}

func (c *Controller) do(ev Event) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- envelope{ev: ev, reply: reply}:
	case <-c.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post delivers an event produced by a background goroutine.
func (c *Controller) post(ev Event) {
	select {
	case c.inbox <- envelope{ev: ev}:
	case <-c.done:
	}
}

func (c *Controller) loop() {
	for env := range c.inbox {
		err := c.apply(env.ev)
		if env.reply != nil {
			env.reply <- err
		} else if err != nil {
			log.Printf("[session] %s: %v", c.opts.ID, err)
		}

		if _, closing := env.ev.(CloseEvent); closing {
			c.shutdown()
			return
		}
	}
}

func (c *Controller) apply(ev Event) error {
	if ended, ok := ev.(CaptureEndedEvent); ok {
		c.forget(ended.Gen)
	}

	next, effects, err := Transition(c.snap, ev)
	c.snap = next
	for _, eff := range effects {
		if ferr := c.execute(eff); ferr != nil {
			err = ferr
		}
	}
	c.publish(c.snap)
	return err
}

func (c *Controller) execute(eff Effect) error {
	switch eff := eff.(type) {
	case StartCaptureEffect:
		if c.transcriber == nil {
			return c.apply(CaptureFailedEvent{Gen: eff.Gen, Err: ErrCaptureUnavailable})
		}
		stream, err := c.transcriber.Start(c.ctx, CaptureOptions{
			Locale:     c.opts.Locale,
			Continuous: true,
			Interim:    true,
		})
		if err != nil {
			return c.apply(CaptureFailedEvent{Gen: eff.Gen, Err: err})
		}
		c.stream, c.streamGen = stream, eff.Gen
		go c.pump(eff.Gen, stream)

	case StopCaptureEffect:
		if c.stream != nil && c.streamGen == eff.Gen {
			c.stream.Stop()
			c.draining[eff.Gen] = c.stream
			c.stream = nil
		}

	case AbortCaptureEffect:
		if c.stream != nil && c.streamGen == eff.Gen {
			c.stream.Abort()
			c.stream = nil
		}
		if stream, ok := c.draining[eff.Gen]; ok {
			stream.Abort()
			delete(c.draining, eff.Gen)
		}

	case SendChatEffect:
		reqCtx, cancel := context.WithTimeout(c.ctx, c.opts.ChatTimeout)
		c.cancelChat = cancel
		go func() {
			defer cancel()
			reply, err := c.chat.Send(reqCtx, eff.Utterance, eff.History)
			c.post(ChatCompletedEvent{
				RequestID: eff.RequestID,
				MessageID: c.opts.NewID(),
				At:        c.opts.Now(),
				Reply:     reply.Text,
				Err:       err,
			})
		}()

	case SpeakEffect:
		if err := c.voice.Speak(c.ctx, eff.Text, c.opts.Locale); err != nil {
			log.Printf("[session] %s: speak failed: %v", c.opts.ID, err)
		}

	case CancelSpeechEffect:
		c.voice.CancelAll()

	case ExpireNoticeEffect:
		// 旧的到期事件会因 seq 不匹配被忽略，只保留最新的计时器
		if c.noticeTTL != nil {
			c.noticeTTL.Stop()
		}
		seq := eff.Seq
		c.noticeTTL = time.AfterFunc(c.opts.NoticeTTL, func() {
			c.post(NoticeExpiredEvent{Seq: seq})
		})
	}
	return nil
}

// forget drops a stream that has finished on its own.
func (c *Controller) forget(gen uint64) {
	if c.stream != nil && c.streamGen == gen {
		c.stream = nil
	}
	delete(c.draining, gen)
}

func (c *Controller) pump(gen uint64, stream CaptureStream) {
	segments, errs := stream.Segments(), stream.Errors()
	for segments != nil || errs != nil {
		select {
		case seg, ok := <-segments:
			if !ok {
				segments = nil
				continue
			}
			c.post(SegmentEvent{Gen: gen, Text: seg.Text, Final: seg.IsFinal})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.post(CaptureErrorEvent{Gen: gen, Err: err})
		case <-c.done:
			return
		}
	}
	c.post(CaptureEndedEvent{Gen: gen})
}

func (c *Controller) publish(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = snap
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (c *Controller) shutdown() {
	if c.stream != nil {
		c.stream.Abort()
		c.stream = nil
	}
	for gen, stream := range c.draining {
		stream.Abort()
		delete(c.draining, gen)
	}
	if c.noticeTTL != nil {
		c.noticeTTL.Stop()
	}
	if c.cancelChat != nil {
		c.cancelChat()
	}
	c.cancel()

	c.mu.Lock()
	close(c.done)
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
}
