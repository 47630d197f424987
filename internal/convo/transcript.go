package convo

import "sync"

// Message roles, matching what the answer service expects.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultMaxMessages bounds the transcript to the last 12 messages, the
// same window the answer service trims history to.
const DefaultMaxMessages = 12

// Transcript is a bounded in-memory record of the current conversation.
// It exists only as context for the answer service; it is never persisted.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	max      int
}

// NewTranscript creates an empty transcript capped at max messages.
// A non-positive max uses DefaultMaxMessages.
func NewTranscript(max int) *Transcript {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &Transcript{
		messages: make([]Message, 0, max),
		max:      max,
	}
}

// Append records a message and evicts the oldest entries past the cap.
func (t *Transcript) Append(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, Message{Role: role, Content: content})
	if len(t.messages) > t.max {
		t.messages = t.messages[len(t.messages)-t.max:]
	}
}

// Messages returns a copy of the current transcript.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of stored messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Clear removes all messages.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = t.messages[:0]
}
