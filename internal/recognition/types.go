// Package recognition wraps a platform continuous speech-to-text capability
// into a restart-resilient session.
package recognition

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by a Factory when the platform has no speech
// recognition capability at all.
var ErrUnsupported = errors.New("speech recognition unsupported")

// State is the session lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateErrorBackoff State = "error_backoff"
)

// Result is one recognizer output. Interim results mirror live text to the
// UI only; final results are candidates for submission.
type Result struct {
	Text    string
	IsFinal bool
}

// Events are the callbacks a recognizer handle delivers to its owner.
type Events struct {
	OnResult func(Result)
	OnEnd    func()        // spontaneous end: silence timeout, permission loss
	OnError  func(error)   // transient platform error
	OnLevel  func(float64) // cosmetic microphone input level, 0..1
}

// Recognizer is one underlying recognizer handle. Handles are replaced, not
// reused, across restarts.
type Recognizer interface {
	Start() error
	Stop()
}

// Factory creates a fresh recognizer handle wired to the given events.
type Factory func(language string, ev Events) (Recognizer, error)

// Utterance is a completed, debounced recognition ready for the orchestrator.
type Utterance struct {
	RawText        string
	NormalizedText string
	Timestamp      time.Time
	IsFinal        bool
}
