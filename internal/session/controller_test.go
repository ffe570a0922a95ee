package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	ctrl  *Controller
	chat  *fakeChat
	voice *fakeVoice
	asr   *fakeTranscriber
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		chat:  &fakeChat{reply: "Hi! How are you?"},
		voice: &fakeVoice{},
		asr:   &fakeTranscriber{},
	}
	opts := Options{
		ID:      "session-1",
		Persona: persona.Seed()[0],
		Chat:    h.chat,
		Voice:   h.voice,
		Capture: CaptureProviderFunc(func(context.Context) Capability { return Available(h.asr) }),
		NewID:   sequentialIDs(),
		Now:     func() time.Time { return epoch },
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctrl, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl
	return h
}

func (h *harness) waitState(t *testing.T, state State) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().State == state }, waitFor, tick)
	return h.ctrl.Snapshot()
}

func TestNewRequiresChatService(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestNewSeedsOpeningLine(t *testing.T) {
	h := newHarness(t, nil)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.CaptureAvailable)
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, "kai-intro", snap.Transcript[0].ID)
	assert.Equal(t, chat.SenderAssistant, snap.Transcript[0].Sender)
	assert.Equal(t, persona.Seed()[0].OpeningLine, snap.Transcript[0].Text)
}

func TestSpokenTurnRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.StartCapture())
	assert.Equal(t, StateListening, h.ctrl.Snapshot().State)
	require.NoError(t, h.ctrl.FinalTranscript("hello there"))
	require.NoError(t, h.ctrl.Submit())

	snap := h.waitState(t, StateIdle)
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, "hello there", snap.Transcript[1].Text)
	assert.Equal(t, chat.SenderUser, snap.Transcript[1].Sender)
	assert.Equal(t, "Hi! How are you?", snap.Transcript[2].Text)
	assert.Equal(t, chat.SenderAssistant, snap.Transcript[2].Sender)
	assert.Empty(t, snap.Notice)

	assert.Equal(t, []string{"Hi! How are you?"}, h.voice.Spoken())
	assert.True(t, h.asr.Latest().stopped.Load())

	calls := h.chat.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hello there", calls[0].utterance)
	require.Len(t, calls[0].history, 1)
	assert.Equal(t, "kai-intro", calls[0].history[0].ID)

	assert.Equal(t, "en-US", h.asr.opts[0].Locale)
	assert.True(t, h.asr.opts[0].Continuous)
	assert.True(t, h.asr.opts[0].Interim)
}

func TestStreamedSegmentsReachBuffer(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.StartCapture())

	stream := h.asr.Latest()
	stream.segments <- Segment{Text: "I went"}
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Buffer == "I went" }, waitFor, tick)

	stream.segments <- Segment{Text: " I went to Kyoto ", IsFinal: true}
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Buffer == "I went to Kyoto" }, waitFor, tick)
}

func TestStreamErrorMovesToError(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.StartCapture())

	stream := h.asr.Latest()
	stream.errs <- NewTranscriptionError("not-allowed", "")

	snap := h.waitState(t, StateError)
	assert.Equal(t, NoticePermissionDenied, snap.Notice)
	assert.True(t, stream.aborted.Load())

	require.NoError(t, h.ctrl.DismissError())
	assert.Empty(t, h.ctrl.Snapshot().Notice)
}

func TestStreamEndingReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.StartCapture())
	require.NoError(t, h.ctrl.FinalTranscript("keep me"))

	h.asr.Latest().end()

	snap := h.waitState(t, StateIdle)
	assert.Equal(t, "keep me", snap.Buffer)
}

func TestCaptureUnavailable(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Capture = nil })

	err := h.ctrl.StartCapture()
	require.ErrorIs(t, err, ErrCaptureUnavailable)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, NoticeCaptureUnavailable, snap.Notice)
}

func TestCaptureStartFails(t *testing.T) {
	h := newHarness(t, nil)
	h.asr.err = errors.New("no input device")

	err := h.ctrl.StartCapture()
	require.ErrorIs(t, err, ErrDeviceError)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, NoticeCaptureStart, snap.Notice)
}

func TestCapabilityResolvedOnce(t *testing.T) {
	resolved := 0
	h := newHarness(t, func(o *Options) {
		inner := o.Capture
		o.Capture = CaptureProviderFunc(func(ctx context.Context) Capability {
			resolved++
			return inner.Resolve(ctx)
		})
	})

	require.NoError(t, h.ctrl.StartCapture())
	require.NoError(t, h.ctrl.CancelCapture())
	require.NoError(t, h.ctrl.StartCapture())
	assert.Equal(t, 1, resolved)
}

func TestCancelCaptureDiscardsBuffer(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.StartCapture())
	require.NoError(t, h.ctrl.PartialTranscript("never mind"))

	require.NoError(t, h.ctrl.CancelCapture())

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Buffer)
	assert.True(t, h.asr.Latest().aborted.Load())
	assert.Len(t, snap.Transcript, 1)
}

func TestTypedSubmitAndBusyGuards(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.release = make(chan struct{})

	require.NoError(t, h.ctrl.EditBuffer("Where do you live?"))
	require.NoError(t, h.ctrl.Submit())
	assert.Equal(t, StateProcessing, h.ctrl.Snapshot().State)

	require.ErrorIs(t, h.ctrl.Submit(), ErrBusy)
	require.ErrorIs(t, h.ctrl.StartCapture(), ErrBusy)
	require.ErrorIs(t, h.ctrl.EditBuffer("more"), ErrBusy)
	assert.Len(t, h.chat.Calls(), 1)

	close(h.chat.release)
	snap := h.waitState(t, StateIdle)
	assert.Len(t, snap.Transcript, 3)
}

func TestEmptySubmitNoticeExpires(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NoticeTTL = 20 * time.Millisecond })

	require.ErrorIs(t, h.ctrl.Submit(), ErrEmptyInput)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, NoticeEmptyInput, snap.Notice)
	assert.Len(t, snap.Transcript, 1)
	assert.Empty(t, h.chat.Calls())

	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Notice == "" }, waitFor, tick)
}

func TestChatFailureUsesFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.err = errors.New("quota exceeded")

	require.NoError(t, h.ctrl.EditBuffer("hello"))
	require.NoError(t, h.ctrl.Submit())

	require.Eventually(t, func() bool { return len(h.ctrl.Snapshot().Transcript) == 3 }, waitFor, tick)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, FallbackReply, snap.Transcript[2].Text)
	assert.Equal(t, NoticeRequestFailed, snap.Notice)
	assert.Empty(t, h.voice.Spoken())
}

func TestChatTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ChatTimeout = 20 * time.Millisecond })
	h.chat.release = make(chan struct{})
	defer close(h.chat.release)

	require.NoError(t, h.ctrl.EditBuffer("hello"))
	require.NoError(t, h.ctrl.Submit())

	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Notice == NoticeRequestFailed }, waitFor, tick)
	assert.Equal(t, StateIdle, h.ctrl.Snapshot().State)
}

func TestCloseCancelsInFlightWork(t *testing.T) {
	ctxErr := make(chan error, 1)
	h := newHarness(t, nil)
	h.chat.release = make(chan struct{})
	h.chat.ctxErr = ctxErr

	require.NoError(t, h.ctrl.EditBuffer("hello"))
	require.NoError(t, h.ctrl.Submit())
	updates, _ := h.ctrl.Subscribe()

	h.ctrl.Close()

	select {
	case err := <-ctxErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("chat context was not cancelled")
	}
	assert.Equal(t, 1, h.voice.Cancels())
	require.ErrorIs(t, h.ctrl.StartCapture(), ErrClosed)
	require.ErrorIs(t, h.ctrl.Submit(), ErrClosed)

	for range updates {
	}
	assert.Len(t, h.ctrl.Snapshot().Transcript, 2)
}

func TestCloseAbortsCapture(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.StartCapture())

	h.ctrl.Close()
	h.ctrl.Close()

	assert.True(t, h.asr.Latest().aborted.Load())
	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("done channel still open")
	}
}

func TestCloseAbortsStoppedCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.asr.linger = true
	h.chat.release = make(chan struct{})

	require.NoError(t, h.ctrl.StartCapture())
	require.NoError(t, h.ctrl.FinalTranscript("hello"))
	require.NoError(t, h.ctrl.Submit())

	stream := h.asr.Latest()
	assert.True(t, stream.stopped.Load())
	assert.False(t, stream.aborted.Load())

	h.ctrl.Close()
	assert.True(t, stream.aborted.Load())
}

func TestNoticeTimerReplaced(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NoticeTTL = time.Minute })

	require.ErrorIs(t, h.ctrl.Submit(), ErrEmptyInput)
	first := h.ctrl.noticeTTL
	require.ErrorIs(t, h.ctrl.Submit(), ErrEmptyInput)
	second := h.ctrl.noticeTTL

	require.NotNil(t, first)
	assert.NotSame(t, first, second)
	assert.False(t, first.Stop(), "earlier timer keeps running")
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	h := newHarness(t, nil)
	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	first := <-updates
	assert.Equal(t, StateIdle, first.State)

	require.NoError(t, h.ctrl.StartCapture())
	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			return snap.State == StateListening
		default:
			return false
		}
	}, waitFor, tick)
}
