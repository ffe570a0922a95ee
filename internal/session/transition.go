package session

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
)

// Transition applies ev to s and returns the next snapshot together with the
// effects the runtime must perform. It never touches collaborators, clocks or
// ID generators: everything it needs is carried by s and ev.
//
// A non-nil error describes why the operation was rejected or failed. A
// rejected operation leaves the snapshot unchanged; a failure (capture error,
// empty submit, chat failure) still returns the updated snapshot.
func Transition(s Snapshot, ev Event) (Snapshot, []Effect, error) {
	if s.closed {
		return s, nil, ErrClosed
	}

	switch ev := ev.(type) {
	case StartCaptureEvent:
		return startCapture(s)
	case CaptureFailedEvent:
		return captureFailed(s, ev)
	case SegmentEvent:
		return segment(s, ev)
	case CaptureErrorEvent:
		return captureError(s, ev)
	case CaptureEndedEvent:
		if ev.Gen != s.captureGen || s.State != StateListening {
			return s, nil, nil
		}
		s.State = StateIdle
		return s, nil, nil
	case EditBufferEvent:
		if s.State != StateIdle {
			return s, nil, ErrBusy
		}
		s.Buffer = ev.Text
		return s, nil, nil
	case SubmitEvent:
		return submit(s, ev)
	case ChatCompletedEvent:
		return chatCompleted(s, ev)
	case CancelCaptureEvent:
		if s.State != StateListening {
			return s, nil, ErrNotListening
		}
		s.State = StateIdle
		s.Buffer = ""
		return s, []Effect{AbortCaptureEffect{Gen: s.captureGen}}, nil
	case DismissErrorEvent:
		s.clearNotice()
		// EditBuffer 只在 Idle 可用，关掉提示后回到 Idle 才能继续打字
		if s.State == StateError {
			s.State = StateIdle
		}
		return s, nil, nil
	case NoticeExpiredEvent:
		if ev.Seq == s.noticeSeq {
			s.Notice = ""
		}
		return s, nil, nil
	case CloseEvent:
		var effects []Effect
		if s.State == StateListening {
			effects = append(effects, AbortCaptureEffect{Gen: s.captureGen})
		}
		effects = append(effects, CancelSpeechEffect{})
		if s.Busy() {
			s.State = StateIdle
		}
		s.pending = ""
		s.closed = true
		return s, effects, nil
	default:
		return s, nil, fmt.Errorf("session: unknown event %T", ev)
	}
}

func startCapture(s Snapshot) (Snapshot, []Effect, error) {
	if s.Busy() {
		return s, nil, ErrBusy
	}
	if !s.CaptureAvailable {
		s.State = StateError
		s.setNotice(NoticeCaptureUnavailable)
		return s, nil, ErrCaptureUnavailable
	}

	s.clearNotice()
	s.Buffer = ""
	s.captureGen++
	s.State = StateListening
	return s, []Effect{StartCaptureEffect{Gen: s.captureGen}}, nil
}

func captureFailed(s Snapshot, ev CaptureFailedEvent) (Snapshot, []Effect, error) {
	if ev.Gen != s.captureGen || s.State != StateListening {
		return s, nil, nil
	}
	notice, err := noticeForCaptureError(ev.Err, true)
	s.State = StateError
	s.Buffer = ""
	s.setNotice(notice)
	return s, nil, err
}

func segment(s Snapshot, ev SegmentEvent) (Snapshot, []Effect, error) {
	if ev.Gen != 0 && ev.Gen != s.captureGen {
		// late result from a capture that has already been stopped
		return s, nil, nil
	}
	if s.State != StateListening {
		if ev.Gen != 0 {
			return s, nil, nil
		}
		return s, nil, ErrNotListening
	}

	if ev.Final {
		s.Buffer = strings.TrimSpace(ev.Text)
	} else {
		s.Buffer = ev.Text
	}
	return s, nil, nil
}

func captureError(s Snapshot, ev CaptureErrorEvent) (Snapshot, []Effect, error) {
	if ev.Gen != s.captureGen || s.State != StateListening {
		return s, nil, nil
	}
	notice, err := noticeForCaptureError(ev.Err, false)
	s.State = StateError
	s.Buffer = ""
	s.setNotice(notice)
	return s, []Effect{AbortCaptureEffect{Gen: s.captureGen}}, err
}

func submit(s Snapshot, ev SubmitEvent) (Snapshot, []Effect, error) {
	if s.State == StateProcessing {
		return s, nil, ErrBusy
	}

	var effects []Effect
	emptyNotice := NoticeEmptyInput
	if s.State == StateListening {
		effects = append(effects, StopCaptureEffect{Gen: s.captureGen})
		emptyNotice = NoticeEmptyCapture
	}

	text := strings.TrimSpace(s.Buffer)
	if text == "" {
		s.State = StateIdle
		s.Buffer = ""
		seq := s.setNotice(emptyNotice)
		return s, append(effects, ExpireNoticeEffect{Seq: seq}), ErrEmptyInput
	}

	history := s.Transcript
	s.Transcript = s.Transcript.Append(chat.Message{
		ID:        ev.MessageID,
		Text:      text,
		Sender:    chat.SenderUser,
		CreatedAt: ev.At,
	})
	s.Buffer = ""
	s.State = StateProcessing
	s.pending = ev.MessageID

	return s, append(effects, SendChatEffect{
		RequestID: ev.MessageID,
		Utterance: text,
		History:   history,
	}), nil
}

func chatCompleted(s Snapshot, ev ChatCompletedEvent) (Snapshot, []Effect, error) {
	if s.State != StateProcessing || ev.RequestID != s.pending {
		return s, nil, nil
	}
	s.pending = ""
	s.State = StateIdle

	reply := strings.TrimSpace(ev.Reply)
	if ev.Err == nil && reply == "" {
		ev.Err = fmt.Errorf("empty reply")
	}

	if ev.Err != nil {
		s.Transcript = s.Transcript.Append(chat.Message{
			ID:        ev.MessageID,
			Text:      FallbackReply,
			Sender:    chat.SenderAssistant,
			CreatedAt: ev.At,
		})
		s.setNotice(NoticeRequestFailed)
		return s, nil, fmt.Errorf("%w: %v", ErrRequestFailed, ev.Err)
	}

	s.Transcript = s.Transcript.Append(chat.Message{
		ID:        ev.MessageID,
		Text:      reply,
		Sender:    chat.SenderAssistant,
		CreatedAt: ev.At,
	})
	return s, []Effect{SpeakEffect{Text: reply}}, nil
}
