// Package convo holds the conversation-scope state: the wake-free listening
// window and the bounded transcript sent to the answer service.
package convo

import (
	"sync"
	"time"
)

// timeNow is a package-level variable to allow mocking in tests.
var timeNow = time.Now

// Window tracks the span during which utterances are accepted without a
// fresh wake phrase. Free mode (the dedicated assistant screen) keeps the
// window open regardless of the expiry timestamp.
type Window struct {
	mu          sync.Mutex
	activeUntil time.Time
	freeMode    bool
}

// NewWindow returns a closed window.
func NewWindow() *Window {
	return &Window{}
}

// Extend keeps the window open for at least d from now. activeUntil never
// moves backwards while a conversation is live.
func (w *Window) Extend(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	until := timeNow().Add(d)
	if until.After(w.activeUntil) {
		w.activeUntil = until
	}
}

// SetFreeMode toggles the always-open mode used inside the assistant view.
func (w *Window) SetFreeMode(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.freeMode = enabled
}

// FreeMode reports whether free mode is enabled.
func (w *Window) FreeMode() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.freeMode
}

// IsOpen reports whether an utterance at the given instant is in scope
// without a wake phrase.
func (w *Window) IsOpen(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.freeMode || now.Before(w.activeUntil)
}

// Close collapses the window immediately and leaves free mode off.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.freeMode = false
	w.activeUntil = time.Time{}
}
