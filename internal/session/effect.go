package session

import "github.com/zhouzirui/eigo-partner/backend/internal/model/chat"

// Effect is a side effect requested by Transition and carried out by the
// controller runtime.
type Effect interface {
	effect()
}

type StartCaptureEffect struct{ Gen uint64 }

type StopCaptureEffect struct{ Gen uint64 }

type AbortCaptureEffect struct{ Gen uint64 }

// SendChatEffect issues a chat request. History is the transcript as it was
// before the user turn was appended.
type SendChatEffect struct {
	RequestID string
	Utterance string
	History   chat.Transcript
}

type SpeakEffect struct{ Text string }

type CancelSpeechEffect struct{}

// ExpireNoticeEffect schedules NoticeExpiredEvent{Seq} after the notice TTL.
type ExpireNoticeEffect struct{ Seq uint64 }

func (StartCaptureEffect) effect() {}
func (StopCaptureEffect) effect()  {}
func (AbortCaptureEffect) effect() {}
func (SendChatEffect) effect()     {}
func (SpeakEffect) effect()        {}
func (CancelSpeechEffect) effect() {}
func (ExpireNoticeEffect) effect() {}
