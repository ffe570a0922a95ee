package session

import (
	"context"

	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
)

// Reply is the assistant text returned by a ChatService.
type Reply struct {
	Text string
}

// ChatService turns a user utterance plus the prior transcript into a reply.
type ChatService interface {
	Send(ctx context.Context, utterance string, history chat.Transcript) (Reply, error)
}

// Segment is one recognized piece of text. Text carries the full current
// hypothesis, not a delta.
type Segment struct {
	Text    string
	IsFinal bool
}

// CaptureOptions configures a capture stream.
type CaptureOptions struct {
	Locale     string
	Continuous bool
	Interim    bool
}

// CaptureStream is a running transcription. Implementations close both
// channels once the stream has ended, whether by Stop, Abort or on its own.
type CaptureStream interface {
	Segments() <-chan Segment
	// Errors yields *TranscriptionError values.
	Errors() <-chan error
	// Stop ends the stream gracefully.
	Stop()
	// Abort ends the stream immediately and discards buffered audio.
	Abort()
}

// Transcriber starts capture streams. Start runs on the session event loop and
// must return promptly; slow setup belongs inside the stream, reporting
// failures on Errors.
type Transcriber interface {
	Start(ctx context.Context, opts CaptureOptions) (CaptureStream, error)
}

// VoiceOutput speaks assistant replies. Speak must return promptly and cancel
// whatever is currently playing before starting.
type VoiceOutput interface {
	Speak(ctx context.Context, text, locale string) error
	CancelAll()
}

// Capability is the resolved presence of a speech-capture backend.
type Capability struct {
	Available   bool
	Transcriber Transcriber
}

// Available wraps a transcriber handle.
func Available(t Transcriber) Capability {
	return Capability{Available: t != nil, Transcriber: t}
}

// Unavailable reports that the runtime cannot capture speech.
var Unavailable = Capability{}

// CaptureProvider detects the capture capability. It is consulted once when a
// session is created.
type CaptureProvider interface {
	Resolve(ctx context.Context) Capability
}

// CaptureProviderFunc adapts a function to CaptureProvider.
type CaptureProviderFunc func(ctx context.Context) Capability

func (f CaptureProviderFunc) Resolve(ctx context.Context) Capability { return f(ctx) }

type noopVoice struct{}

func (noopVoice) Speak(context.Context, string, string) error { return nil }
func (noopVoice) CancelAll()                                  {}
