// Package playback turns reply text into audible speech and keeps the
// microphone and the speaker from running over each other.
package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/bus"
)

// ErrGestureRequired is returned by a Player whose platform refuses to play
// audio before a user gesture (autoplay policy).
var ErrGestureRequired = errors.New("audio playback requires a user gesture")

// State is the playback session state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StateEnded   State = "ended"
	StateFailed  State = "failed"
)

// Player is the audio output capability. Implementations own a single
// reusable output handle; Play blocks until the audio finishes, the context
// is cancelled, or Stop is called.
type Player interface {
	Play(ctx context.Context, audio []byte) error
	Stop()
}

// Synthesizer produces audio bytes for text, typically the remote service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Local is the on-device voice used when remote synthesis fails.
type Local interface {
	Available() bool
	Speak(ctx context.Context, text string) error
}

// Guard is the echo filter fed with what is about to be spoken.
type Guard interface {
	SetSpeaking(text string)
	SetPlaybackActive(active bool)
}

// Recognition is the microphone interlock: suppressed before any audio
// starts, resumed shortly after it ends.
type Recognition interface {
	Suppress()
	Resume(delay time.Duration)
}

// SessionConfig holds the playback tuning constants.
type SessionConfig struct {
	ResumeDelay time.Duration // quiet gap before the microphone goes hot again
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{ResumeDelay: 350 * time.Millisecond}
}

// Session speaks assistant replies. Degradation order: remote synthesis,
// on-device voice, text-only. Failure to speak is never fatal to the
// conversation.
type Session struct {
	cfg         SessionConfig
	synthesizer Synthesizer
	local       Local
	player      Player
	guard       Guard
	recognition Recognition
	eventBus    *bus.EventBus
	logger      zerolog.Logger

	// turnMu serializes the begin/finish brackets of speak attempts, so a
	// stale finish can never interleave with a successor's suppression.
	turnMu sync.Mutex

	mu           sync.Mutex
	state        State
	lastText     string
	speakGen     uint64 // current speak attempt; superseded attempts skip their end bookkeeping
	pendingAudio []byte // audio waiting for a user gesture
	blockedOnce  bool   // unlock prompt already surfaced
}

// NewSession creates a playback session.
func NewSession(cfg SessionConfig, synthesizer Synthesizer, local Local, player Player, guard Guard, recognition Recognition, eventBus *bus.EventBus, logger zerolog.Logger) *Session {
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = 350 * time.Millisecond
	}
	return &Session{
		cfg:         cfg,
		synthesizer: synthesizer,
		local:       local,
		player:      player,
		guard:       guard,
		recognition: recognition,
		eventBus:    eventBus,
		logger:      logger.With().Str("component", "playback").Logger(),
		state:       StateIdle,
	}
}

// State returns the current playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether audio is being fetched or played.
func (s *Session) IsActive() bool {
	st := s.State()
	return st == StateLoading || st == StatePlaying
}

// Speak converts text to speech and plays it. It blocks until playback ends
// one way or another; callers run it from their own goroutine. Before any
// audio the microphone is suppressed and the echo filter primed, and after
// the audio ends the microphone resume is scheduled.
func (s *Session) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Never overlap: one output handle, one utterance at a time.
	s.player.Stop()

	gen := s.begin(text)

	audio, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("remote synthesis failed, trying on-device voice")
		return s.speakLocal(ctx, gen, text)
	}
	return s.play(ctx, gen, audio)
}

// ResumeAfterGesture retries audio held back by the autoplay policy. Call it
// from the first user interaction after the unlock prompt.
func (s *Session) ResumeAfterGesture(ctx context.Context) {
	s.mu.Lock()
	audio := s.pendingAudio
	text := s.lastText
	s.pendingAudio = nil
	s.mu.Unlock()

	if audio == nil {
		return
	}

	s.publish(bus.EventTypePlaybackUnlocked, nil)
	gen := s.begin(text)
	s.play(ctx, gen, audio)
}

// Stop halts any in-flight audio and resets the session. Safe to call at any
// time; used when the assistant view closes.
func (s *Session) Stop() {
	s.player.Stop()

	s.turnMu.Lock()
	s.mu.Lock()
	s.speakGen++ // in-flight attempts must not run their end bookkeeping
	s.pendingAudio = nil
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
	s.guard.SetPlaybackActive(false)
	s.turnMu.Unlock()
}

// begin brackets the start of a speak attempt: microphone off, echo filter
// primed, state Loading. The returned generation identifies this attempt;
// any attempt it supersedes becomes stale the moment the generation moves.
func (s *Session) begin(text string) uint64 {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	s.speakGen++
	gen := s.speakGen
	s.lastText = text
	s.setStateLocked(StateLoading)
	s.mu.Unlock()

	s.recognition.Suppress()
	s.guard.SetSpeaking(text)
	s.guard.SetPlaybackActive(true)
	return gen
}

// play sends audio to the output handle and runs the end-of-playback
// bookkeeping.
func (s *Session) play(ctx context.Context, gen uint64, audio []byte) error {
	s.mu.Lock()
	if gen != s.speakGen {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StatePlaying)
	s.mu.Unlock()
	s.publish(bus.EventTypePlaybackStarted, map[string]any{"text": s.currentText()})

	err := s.player.Play(ctx, audio)
	if errors.Is(err, ErrGestureRequired) {
		s.mu.Lock()
		first := false
		if gen == s.speakGen {
			s.pendingAudio = audio
			first = !s.blockedOnce
			s.blockedOnce = true
		}
		s.mu.Unlock()

		if first {
			s.publish(bus.EventTypePlaybackBlocked, nil)
			s.logger.Info().Msg("playback blocked by autoplay policy, waiting for a user gesture")
		}
		s.finish(gen, StateFailed)
		return err
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("audio playback failed")
		s.finish(gen, StateFailed)
		return err
	}

	s.finish(gen, StateEnded)
	return nil
}

// speakLocal runs the on-device voice, or degrades to text-only when there
// is none.
func (s *Session) speakLocal(ctx context.Context, gen uint64, text string) error {
	if s.local == nil || !s.local.Available() {
		s.mu.Lock()
		current := gen == s.speakGen
		s.mu.Unlock()
		if current {
			// Nothing was audible, so the echo filter must not treat this
			// text as spoken.
			s.guard.SetSpeaking("")
		}
		// Text-only degradation: the reply still reaches the user through
		// the caption feed and the log.
		s.logger.Info().Str("reply", text).Msg("no speech output available, reply shown as text only")
		s.publish(bus.EventTypePlaybackFailed, map[string]any{"text": text})
		s.finish(gen, StateFailed)
		return nil
	}

	s.mu.Lock()
	if gen != s.speakGen {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StatePlaying)
	s.mu.Unlock()
	s.publish(bus.EventTypePlaybackStarted, map[string]any{"text": text})

	if err := s.local.Speak(ctx, text); err != nil {
		s.logger.Warn().Err(err).Msg("on-device voice failed")
		s.finish(gen, StateFailed)
		return nil
	}
	s.finish(gen, StateEnded)
	return nil
}

// finish releases the echo filter and schedules the microphone resume. A
// live attempt, successful or not, always ends here so the system can never
// be left permanently deaf. An attempt superseded by a newer Speak skips
// the bookkeeping entirely: the guard and the resume now belong to its
// successor, and releasing them here would re-arm the microphone while the
// successor's audio is still playing.
func (s *Session) finish(gen uint64, terminal State) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if gen != s.speakGen {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(terminal)
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	s.guard.SetPlaybackActive(false)
	s.publish(bus.EventTypePlaybackEnded, nil)
	s.recognition.Resume(s.cfg.ResumeDelay)
}

func (s *Session) currentText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	old := s.state
	s.state = state
	s.logger.Debug().Str("old", string(old)).Str("new", string(state)).Msg("playback state changed")
}

func (s *Session) publish(t bus.EventType, data map[string]any) {
	if s.eventBus != nil {
		s.eventBus.Publish(bus.Event{Type: t, Data: data})
	}
}
