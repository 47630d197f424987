package recognition

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/bus"
	"github.com/safetypulse/securito/internal/textnorm"
)

// SessionConfig holds the session tuning constants.
type SessionConfig struct {
	Language       string
	DebounceDelay  time.Duration // quiet time before a buffered final is submitted
	RestartBackoff time.Duration // delay before recreating a dead recognizer
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Language:       "es-MX",
		DebounceDelay:  900 * time.Millisecond,
		RestartBackoff: 400 * time.Millisecond,
	}
}

// Session owns the lifecycle of one continuous speech-recognition attempt.
// Exactly one logical attempt to listen is active at a time; the underlying
// recognizer handle is replaced, never duplicated, on restart.
type Session struct {
	cfg      SessionConfig
	factory  Factory
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu           sync.Mutex
	state        State
	recognizer   Recognizer
	autoRestart  bool
	suppressed   bool   // playback interlock: no restarts while the speaker is live
	suppressGen  uint64 // bumped on every Suppress; stale resume timers check it
	onUtterance  func(Utterance)
	pendingText  string
	pendingAt    time.Time
	debounce     *time.Timer
	restart      *time.Timer
	resume       *time.Timer
	unsupported  bool // capability failure already reported to the caller
}

// NewSession creates a Session over the given recognizer factory.
func NewSession(cfg SessionConfig, factory Factory, eventBus *bus.EventBus, logger zerolog.Logger) *Session {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 900 * time.Millisecond
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = 400 * time.Millisecond
	}

	return &Session{
		cfg:      cfg,
		factory:  factory,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "recognition").Logger(),
		state:    StateStopped,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the session is actively listening.
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// Start begins listening and delivers debounced utterances to onUtterance.
// It is idempotent: calling it while already listening is a no-op. It
// returns false when the platform has no recognition capability, so the
// caller can fall back to a text-only input path; that failure is reported
// once, not retried.
func (s *Session) Start(onUtterance func(Utterance)) bool {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return true
	}
	if s.unsupported {
		s.mu.Unlock()
		return false
	}
	s.autoRestart = true
	s.suppressed = false
	s.onUtterance = onUtterance
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	return s.spawn()
}

// Stop disables auto-restart, tears down the current recognizer handle and
// resets internal state. Always safe to call.
func (s *Session) Stop() {
	s.mu.Lock()
	s.autoRestart = false
	s.suppressed = false
	s.cancelTimersLocked()
	s.pendingText = ""
	rec := s.recognizer
	s.recognizer = nil
	s.setStateLocked(StateStopped)
	s.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
}

// Suppress tears down the recognizer while playback is audible, without
// giving up the session: auto-restart stays armed but is held until Resume.
func (s *Session) Suppress() {
	s.mu.Lock()
	s.suppressed = true
	s.suppressGen++
	s.cancelTimersLocked()
	s.pendingText = ""
	rec := s.recognizer
	s.recognizer = nil
	if s.state != StateStopped {
		s.setStateLocked(StateStopped)
	}
	s.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
}

// Resume lifts the playback suppression after the given delay, so the
// microphone is not hot while the speaker is still ringing.
func (s *Session) Resume(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.suppressed || !s.autoRestart {
		s.suppressed = false
		return
	}
	if s.resume != nil {
		s.resume.Stop()
	}
	gen := s.suppressGen
	s.resume = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if !s.autoRestart || !s.suppressed || s.suppressGen != gen {
			s.mu.Unlock()
			return
		}
		s.suppressed = false
		s.state = StateStarting
		s.mu.Unlock()
		s.spawn()
	})
}

// spawn creates and starts a fresh recognizer handle.
func (s *Session) spawn() bool {
	rec, err := s.factory(s.cfg.Language, Events{
		OnResult: s.handleResult,
		OnEnd:    s.handleEnd,
		OnError:  s.handleError,
		OnLevel:  s.handleLevel,
	})
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err == ErrUnsupported {
			s.unsupported = true
			s.autoRestart = false
			s.setStateLocked(StateStopped)
			s.logger.Warn().Msg("speech recognition unavailable, text-only fallback")
			return false
		}
		s.logger.Warn().Err(err).Msg("recognizer creation failed, backing off")
		s.scheduleRestartLocked()
		return true
	}

	s.mu.Lock()
	if !s.autoRestart || s.suppressed {
		// Stopped or suppressed while we were constructing the handle.
		s.mu.Unlock()
		rec.Stop()
		return true
	}
	s.recognizer = rec
	s.mu.Unlock()

	if err := rec.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("recognizer start failed, backing off")
		s.mu.Lock()
		s.recognizer = nil
		s.scheduleRestartLocked()
		s.mu.Unlock()
		return true
	}

	s.mu.Lock()
	if !s.autoRestart || s.suppressed {
		// Stopped while the handle was coming up.
		s.recognizer = nil
		s.mu.Unlock()
		rec.Stop()
		return true
	}
	s.setStateLocked(StateRunning)
	s.mu.Unlock()
	s.publish(bus.EventTypeRecognitionStarted, nil)
	return true
}

// handleResult mirrors interim text to the bus and debounces finals.
func (s *Session) handleResult(r Result) {
	if !r.IsFinal {
		s.publish(bus.EventTypeInterimResult, map[string]any{"text": r.Text})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A burst of rapid "final" corrections replaces the buffer; only the
	// settled text is submitted once the burst quiets down.
	s.pendingText = r.Text
	s.pendingAt = time.Now()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.DebounceDelay, s.flushPending)
}

// flushPending submits the buffered final text as a completed utterance.
func (s *Session) flushPending() {
	s.mu.Lock()
	text := s.pendingText
	at := s.pendingAt
	s.pendingText = ""
	cb := s.onUtterance
	s.mu.Unlock()

	if text == "" || cb == nil {
		return
	}

	u := Utterance{
		RawText:        text,
		NormalizedText: textnorm.Normalize(text),
		Timestamp:      at,
		IsFinal:        true,
	}
	s.publish(bus.EventTypeUtteranceReady, map[string]any{"text": u.NormalizedText})
	cb(u)
}

// handleEnd restarts after a spontaneous recognizer end, unless stopped or
// suppressed by playback.
func (s *Session) handleEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recognizer = nil
	if !s.autoRestart || s.suppressed {
		s.setStateLocked(StateStopped)
		return
	}
	s.scheduleRestartLocked()
}

// handleError logs and falls into the same backoff path as handleEnd. There
// is no retry limit: the assistant view is expected to keep listening for
// as long as it is open.
func (s *Session) handleError(err error) {
	s.logger.Debug().Err(err).Msg("recognition error")
	s.publish(bus.EventTypeRecognitionError, map[string]any{"error": err.Error()})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recognizer = nil
	if !s.autoRestart || s.suppressed {
		s.setStateLocked(StateStopped)
		return
	}
	s.scheduleRestartLocked()
}

func (s *Session) handleLevel(level float64) {
	s.publish(bus.EventTypeMicLevel, map[string]any{"level": level})
}

// scheduleRestartLocked arms the fixed-backoff restart. Caller holds s.mu.
func (s *Session) scheduleRestartLocked() {
	s.setStateLocked(StateErrorBackoff)
	if s.restart != nil {
		s.restart.Stop()
	}
	s.restart = time.AfterFunc(s.cfg.RestartBackoff, func() {
		s.mu.Lock()
		if !s.autoRestart || s.suppressed {
			s.mu.Unlock()
			return
		}
		s.state = StateStarting
		s.mu.Unlock()
		s.spawn()
	})
}

func (s *Session) cancelTimersLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	if s.resume != nil {
		s.resume.Stop()
		s.resume = nil
	}
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	old := s.state
	s.state = state
	s.logger.Debug().Str("old", string(old)).Str("new", string(state)).Msg("recognition state changed")
	if state == StateStopped && s.eventBus != nil {
		s.eventBus.Publish(bus.Event{Type: bus.EventTypeRecognitionStopped})
	}
}

func (s *Session) publish(t bus.EventType, data map[string]any) {
	if s.eventBus != nil {
		s.eventBus.Publish(bus.Event{Type: t, Data: data})
	}
}
