package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration blocks session creation: the chat credential is missing.
	ErrConfiguration = errors.New("chat service is not configured")

	ErrCaptureUnavailable = errors.New("speech capture unavailable")
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceError        = errors.New("capture device error")
	ErrNoSpeech           = errors.New("no speech detected")
	ErrEmptyInput         = errors.New("empty input")
	ErrRequestFailed      = errors.New("chat request failed")

	// ErrBusy is returned when the current state does not accept the operation.
	ErrBusy         = errors.New("session busy")
	ErrNotListening = errors.New("session is not listening")
	ErrClosed       = errors.New("session closed")
)

// User-facing notices.
const (
	NoticeCaptureUnavailable = "Speech recognition is not supported in this browser."
	NoticeCaptureStart       = "Could not start microphone. Please check permissions."
	NoticeNoSpeech           = "No speech detected. Please try again."
	NoticeAudioCapture       = "Microphone problem. Please check your microphone."
	NoticePermissionDenied   = "Microphone access denied. Please enable microphone permissions in your browser settings."
	NoticeRecognition        = "Speech recognition error."
	NoticeEmptyInput         = "Please type a message or try speaking."
	NoticeEmptyCapture       = "No speech was detected or your message was empty."
	NoticeRequestFailed      = "Sorry, I couldn't get a response. Please try again."

	// FallbackReply is appended as the assistant turn when the chat request fails.
	FallbackReply = "I'm having a little trouble responding right now. Could you try that again?"
)

// TranscriptionErrorKind mirrors the error codes a recognizer reports.
type TranscriptionErrorKind string

const (
	KindNoSpeech         TranscriptionErrorKind = "no-speech"
	KindAudioCapture     TranscriptionErrorKind = "audio-capture"
	KindPermissionDenied TranscriptionErrorKind = "not-allowed"
	KindOther            TranscriptionErrorKind = "other"
)

// ParseTranscriptionErrorKind maps a recognizer error code to a kind.
func ParseTranscriptionErrorKind(code string) TranscriptionErrorKind {
	switch code {
	case "no-speech":
		return KindNoSpeech
	case "audio-capture":
		return KindAudioCapture
	case "not-allowed", "service-not-allowed":
		return KindPermissionDenied
	default:
		return KindOther
	}
}

// TranscriptionError is raised on a capture stream's error channel.
type TranscriptionError struct {
	Kind   TranscriptionErrorKind
	Detail string
}

// NewTranscriptionError builds a TranscriptionError from a recognizer code.
func NewTranscriptionError(code, detail string) *TranscriptionError {
	return &TranscriptionError{Kind: ParseTranscriptionErrorKind(code), Detail: detail}
}

func (e *TranscriptionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transcription error: %s", e.Kind)
	}
	return fmt.Sprintf("transcription error: %s: %s", e.Kind, e.Detail)
}

// Unwrap lets callers match the error taxonomy with errors.Is.
func (e *TranscriptionError) Unwrap() error {
	switch e.Kind {
	case KindNoSpeech:
		return ErrNoSpeech
	case KindPermissionDenied:
		return ErrPermissionDenied
	default:
		return ErrDeviceError
	}
}

// noticeForCaptureError picks the notice and taxonomy error for a failed or
// interrupted capture.
func noticeForCaptureError(err error, starting bool) (string, error) {
	var terr *TranscriptionError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case KindNoSpeech:
			return NoticeNoSpeech, err
		case KindAudioCapture:
			return NoticeAudioCapture, err
		case KindPermissionDenied:
			return NoticePermissionDenied, err
		default:
			return NoticeRecognition, err
		}
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return NoticePermissionDenied, err
	case errors.Is(err, ErrCaptureUnavailable):
		return NoticeCaptureUnavailable, err
	case errors.Is(err, ErrDeviceError), errors.Is(err, ErrNoSpeech):
		if starting {
			return NoticeCaptureStart, err
		}
		return NoticeRecognition, err
	}

	if starting {
		return NoticeCaptureStart, fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
	return NoticeRecognition, fmt.Errorf("%w: %v", ErrDeviceError, err)
}
