// Package echo keeps the assistant from responding to its own voice.
package echo

import (
	"strings"
	"sync"
	"time"

	"github.com/safetypulse/securito/internal/textnorm"
)

// duplicateWindow is how long a repeated identical utterance is treated as
// a duplicate recognizer firing rather than the user repeating themselves.
const duplicateWindow = 2 * time.Second

// timeNow is a package-level variable to allow mocking in tests.
var timeNow = time.Now

// Guard tracks the most recently spoken and heard text and decides whether
// a newly recognized utterance is an echo to be discarded.
type Guard struct {
	mu             sync.Mutex
	lastSpoken     string
	lastHeard      string
	lastHeardAt    time.Time
	playbackActive bool
}

// NewGuard returns a Guard with no history.
func NewGuard() *Guard {
	return &Guard{}
}

// SetSpeaking records the text about to be played back so near-duplicate
// recognitions of it can be filtered.
func (g *Guard) SetSpeaking(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSpoken = textnorm.Normalize(text)
}

// SetPlaybackActive marks whether synthesized audio is currently audible.
// Everything heard while active is discarded.
func (g *Guard) SetPlaybackActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playbackActive = active
}

// ShouldDrop reports whether a final recognition result must be discarded.
// It drops when playback is active, when the heard text equals, contains,
// or is contained by the last spoken text, or when it repeats the previous
// heard text within the duplicate window. The heard text is recorded either
// way so the next call sees it.
func (g *Guard) ShouldDrop(heard string) bool {
	n := textnorm.Normalize(heard)
	now := timeNow()

	g.mu.Lock()
	defer g.mu.Unlock()

	prevHeard, prevAt := g.lastHeard, g.lastHeardAt
	g.lastHeard = n
	g.lastHeardAt = now

	if n == "" {
		return true
	}
	if g.playbackActive {
		return true
	}
	if g.lastSpoken != "" &&
		(n == g.lastSpoken || strings.Contains(g.lastSpoken, n) || strings.Contains(n, g.lastSpoken)) {
		return true
	}
	if n == prevHeard && now.Sub(prevAt) < duplicateWindow {
		return true
	}
	return false
}

// Reset clears all history, e.g. when the assistant view is reopened.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSpoken = ""
	g.lastHeard = ""
	g.lastHeardAt = time.Time{}
	g.playbackActive = false
}
