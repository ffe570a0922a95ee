package session

import (
	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
)

// State is the coarse phase of a conversation session.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// Snapshot is the complete state of one session. Values are immutable once
// published; the transcript slice is never written after it is shared.
type Snapshot struct {
	ID         string          `json:"id"`
	State      State           `json:"state"`
	Buffer     string          `json:"buffer"`
	Notice     string          `json:"notice,omitempty"`
	Transcript chat.Transcript `json:"transcript"`

	CaptureAvailable bool `json:"captureAvailable"`

	captureGen uint64
	noticeSeq  uint64
	pending    string
	closed     bool
}

// NewSnapshot returns the initial Idle snapshot seeded with the given transcript.
func NewSnapshot(id string, captureAvailable bool, seed chat.Transcript) Snapshot {
	return Snapshot{
		ID:               id,
		State:            StateIdle,
		Transcript:       seed.Clone(),
		CaptureAvailable: captureAvailable,
	}
}

// Busy reports whether a capture or a chat request is in flight.
func (s Snapshot) Busy() bool {
	return s.State == StateListening || s.State == StateProcessing
}

// Closed reports whether the session has been torn down.
func (s Snapshot) Closed() bool { return s.closed }

func (s *Snapshot) setNotice(text string) uint64 {
	s.Notice = text
	s.noticeSeq++
	return s.noticeSeq
}

func (s *Snapshot) clearNotice() {
	if s.Notice == "" {
		return
	}
	s.Notice = ""
	s.noticeSeq++
}
