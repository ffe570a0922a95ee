package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
)

type chatCall struct {
	utterance string
	history   chat.Transcript
}

// fakeChat answers with reply/err, or blocks until release is closed when set.
type fakeChat struct {
	mu      sync.Mutex
	calls   []chatCall
	reply   string
	err     error
	release chan struct{}
	ctxErr  chan error
}

func (f *fakeChat) Send(ctx context.Context, utterance string, history chat.Transcript) (Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chatCall{utterance: utterance, history: history})
	release, reply, err := f.release, f.reply, f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			if f.ctxErr != nil {
				f.ctxErr <- ctx.Err()
			}
			return Reply{}, ctx.Err()
		}
	}
	return Reply{Text: reply}, err
}

func (f *fakeChat) Calls() []chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatCall(nil), f.calls...)
}

type fakeVoice struct {
	mu      sync.Mutex
	spoken  []string
	cancels int
}

func (v *fakeVoice) Speak(_ context.Context, text, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spoken = append(v.spoken, text)
	return nil
}

func (v *fakeVoice) CancelAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels++
}

func (v *fakeVoice) Spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

func (v *fakeVoice) Cancels() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancels
}

type fakeStream struct {
	segments chan Segment
	errs     chan error
	once     sync.Once
	stopped  atomic.Bool
	aborted  atomic.Bool
	// linger keeps the stream open after Stop, like a recognizer still
	// waiting for its final result.
	linger bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{segments: make(chan Segment, 8), errs: make(chan error, 1)}
}

func (s *fakeStream) Segments() <-chan Segment { return s.segments }
func (s *fakeStream) Errors() <-chan error     { return s.errs }

func (s *fakeStream) Stop() {
	s.stopped.Store(true)
	if !s.linger {
		s.end()
	}
}

func (s *fakeStream) Abort() {
	s.aborted.Store(true)
	s.end()
}

func (s *fakeStream) end() {
	s.once.Do(func() {
		close(s.segments)
		close(s.errs)
	})
}

type fakeTranscriber struct {
	mu      sync.Mutex
	streams []*fakeStream
	opts    []CaptureOptions
	err     error
	linger  bool
}

func (f *fakeTranscriber) Start(_ context.Context, opts CaptureOptions) (CaptureStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	s.linger = f.linger
	f.streams = append(f.streams, s)
	f.opts = append(f.opts, opts)
	return s, nil
}

func (f *fakeTranscriber) Latest() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}
