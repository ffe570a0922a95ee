package session

import "time"

// Event is an input to Transition.
type Event interface {
	event()
}

// StartCaptureEvent asks to begin capturing speech.
type StartCaptureEvent struct{}

// CaptureFailedEvent reports that the transcriber refused to start.
type CaptureFailedEvent struct {
	Gen uint64
	Err error
}

// SegmentEvent carries recognized text. Gen zero targets the current capture.
type SegmentEvent struct {
	Gen   uint64
	Text  string
	Final bool
}

// CaptureErrorEvent reports an error raised by a running capture stream.
type CaptureErrorEvent struct {
	Gen uint64
	Err error
}

// CaptureEndedEvent reports that a capture stream finished.
type CaptureEndedEvent struct {
	Gen uint64
}

// EditBufferEvent replaces the pending input with typed text.
type EditBufferEvent struct {
	Text string
}

// SubmitEvent sends the pending input. MessageID names the user turn and
// doubles as the chat request ID.
type SubmitEvent struct {
	MessageID string
	At        time.Time
}

// ChatCompletedEvent delivers the outcome of a chat request.
type ChatCompletedEvent struct {
	RequestID string
	MessageID string
	At        time.Time
	Reply     string
	Err       error
}

type CancelCaptureEvent struct{}

type DismissErrorEvent struct{}

// NoticeExpiredEvent clears a transient notice if it is still the one shown.
type NoticeExpiredEvent struct {
	Seq uint64
}

// CloseEvent tears the session down.
type CloseEvent struct{}

func (StartCaptureEvent) event()  {}
func (CaptureFailedEvent) event() {}
func (SegmentEvent) event()       {}
func (CaptureErrorEvent) event()  {}
func (CaptureEndedEvent) event()  {}
func (EditBufferEvent) event()    {}
func (SubmitEvent) event()        {}
func (ChatCompletedEvent) event() {}
func (CancelCaptureEvent) event() {}
func (DismissErrorEvent) event()  {}
func (NoticeExpiredEvent) event() {}
func (CloseEvent) event()         {}
