package chat

import "time"

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single immutable transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transcript is the ordered, append-only conversation history.
// Insertion order is display order.
type Transcript []Message

// Append returns a new transcript with msg at the end. The receiver is never
// modified, so snapshots handed out earlier stay valid.
func (t Transcript) Append(msg Message) Transcript {
	next := make(Transcript, len(t), len(t)+1)
	copy(next, t)
	return append(next, msg)
}

// Clone returns an independent copy.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	copied := make(Transcript, len(t))
	copy(copied, t)
	return copied
}

// Last returns the newest entry, if any.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}
