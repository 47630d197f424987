// Package orchestrator coordinates one conversation turn at a time: scope
// gating, the answer call, and the speak/listen handover.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/answer"
	"github.com/safetypulse/securito/internal/avatar"
	"github.com/safetypulse/securito/internal/bus"
	"github.com/safetypulse/securito/internal/convo"
	"github.com/safetypulse/securito/internal/echo"
	"github.com/safetypulse/securito/internal/recognition"
	"github.com/safetypulse/securito/internal/textnorm"
	"github.com/safetypulse/securito/internal/wake"
)

// timeNow is a package-level variable to allow mocking in tests.
var timeNow = time.Now

// Listener is the microphone side of a turn.
type Listener interface {
	Start(onUtterance func(recognition.Utterance)) bool
	Stop()
}

// Speaker is the playback side of a turn.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Answerer produces the reply for a question, given recent history.
type Answerer interface {
	Ask(ctx context.Context, question string, history []convo.Message, user answer.UserContext) (string, error)
}

// Avatar receives the visual projection of the turn.
type Avatar interface {
	SetState(avatar.State)
}

// Config holds the orchestrator tuning constants and canned lines.
type Config struct {
	WindowExtension time.Duration
	HintCooldown    time.Duration
	Greeting        string
	ContinuePrompt  string
	Hint            string
	Apology         string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WindowExtension: 25 * time.Second,
		HintCooldown:    30 * time.Second,
		Greeting:        "¡Hola! Soy Securito. ¿En qué te puedo ayudar?",
		ContinuePrompt:  "¿Sí? Te escucho.",
		Hint:            "Di \"Securito\" para hablar conmigo.",
		Apology:         "Perdón, tuve un problema para responder. ¿Lo intentas de nuevo?",
	}
}

// Orchestrator owns the turn state machine. One utterance in, at most one
// spoken reply out; collaborator failures become spoken apologies, never
// crashes.
type Orchestrator struct {
	cfg        Config
	matcher    *wake.Matcher
	window     *convo.Window
	transcript *convo.Transcript
	guard      *echo.Guard
	listener   Listener
	speaker    Speaker
	answerer   Answerer
	avatar     Avatar
	user       answer.UserContext
	eventBus   *bus.EventBus
	logger     zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	epoch      uint64 // bumped on view close; in-flight results from older epochs are discarded
	lastHintAt time.Time
	textOnly   bool
}

// New creates an orchestrator over the given collaborators.
func New(cfg Config, matcher *wake.Matcher, window *convo.Window, transcript *convo.Transcript, guard *echo.Guard, listener Listener, speaker Speaker, answerer Answerer, av Avatar, user answer.UserContext, eventBus *bus.EventBus, logger zerolog.Logger) *Orchestrator {
	if cfg.WindowExtension <= 0 {
		cfg.WindowExtension = 25 * time.Second
	}
	if cfg.HintCooldown <= 0 {
		cfg.HintCooldown = 30 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		matcher:    matcher,
		window:     window,
		transcript: transcript,
		guard:      guard,
		listener:   listener,
		speaker:    speaker,
		answerer:   answerer,
		avatar:     av,
		user:       user,
		eventBus:   eventBus,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		ctx:        context.Background(),
	}
}

// EnterView opens the dedicated assistant screen: free mode on, microphone
// on, a short spoken greeting. Returns false when the platform has no
// speech recognition, in which case SubmitText is the input path.
func (o *Orchestrator) EnterView(ctx context.Context) bool {
	o.mu.Lock()
	o.ctx = ctx
	o.epoch++
	o.mu.Unlock()

	o.guard.Reset()
	o.transcript.Clear()
	o.window.SetFreeMode(true)

	ok := o.listener.Start(o.HandleUtterance)
	if !ok {
		o.mu.Lock()
		o.textOnly = true
		o.mu.Unlock()
		o.logger.Warn().Msg("speech recognition unavailable, text input only")
	}
	o.avatar.SetState(avatar.StateListening)

	if o.cfg.Greeting != "" {
		epoch := o.currentEpoch()
		go o.speak(ctx, epoch, o.cfg.Greeting)
	}
	return ok
}

// LeaveView closes the assistant screen: microphone off, any in-flight
// audio halted, window collapsed. Results of requests still in flight are
// discarded when they land.
func (o *Orchestrator) LeaveView() {
	o.mu.Lock()
	o.epoch++
	o.mu.Unlock()

	o.listener.Stop()
	o.speaker.Stop()
	o.window.Close()
	o.avatar.SetState(avatar.StateIdle)
}

// SubmitText feeds a typed question through the same turn pipeline, for the
// text-only fallback path. Wake gating still applies outside free mode.
func (o *Orchestrator) SubmitText(text string) {
	o.HandleUtterance(recognition.Utterance{
		RawText:        text,
		NormalizedText: textnorm.Normalize(text),
		Timestamp:      timeNow(),
		IsFinal:        true,
	})
}

// HandleUtterance is the entry point for a completed utterance. It applies
// the echo filter, the wake/window scope check, and runs the turn.
func (o *Orchestrator) HandleUtterance(u recognition.Utterance) {
	if o.guard.ShouldDrop(u.RawText) {
		o.logger.Debug().Str("text", u.NormalizedText).Msg("utterance dropped as echo")
		return
	}

	matcher := o.currentMatcher()
	hasWake := matcher.HasWake(u.RawText)
	open := o.window.IsOpen(timeNow())

	if !hasWake && !open {
		o.maybeHint()
		return
	}

	text := u.NormalizedText
	if hasWake {
		o.window.Extend(o.cfg.WindowExtension)
		text = matcher.StripWake(u.RawText)
	}

	epoch := o.currentEpoch()
	ctx := o.currentContext()

	if text == "" {
		// The user said only the name; invite them to continue instead of
		// submitting an empty question.
		o.speak(ctx, epoch, o.cfg.ContinuePrompt)
		return
	}

	o.runTurn(ctx, epoch, text)
}

// runTurn executes one question/answer/speak cycle.
func (o *Orchestrator) runTurn(ctx context.Context, epoch uint64, question string) {
	o.publish(bus.EventTypeTurnStarted, map[string]any{"question": question})
	o.avatar.SetState(avatar.StateThinking)

	// History is the conversation before this question; the answer service
	// appends the question itself as the final user message.
	history := o.transcript.Messages()
	o.transcript.Append(convo.RoleUser, question)

	reply, err := o.answerer.Ask(ctx, question, history, o.user)

	if o.stale(epoch) {
		o.logger.Debug().Msg("discarding answer for a closed view")
		return
	}

	if err != nil {
		o.logger.Warn().Err(err).Msg("answer request failed")
		o.publish(bus.EventTypeTurnFailed, map[string]any{"error": err.Error()})
		// The failed turn is not recorded as an assistant message; the
		// apology is spoken so the conversation never dead-ends.
		o.speak(ctx, epoch, o.cfg.Apology)
		return
	}

	o.transcript.Append(convo.RoleAssistant, reply)
	o.publish(bus.EventTypeTurnCompleted, map[string]any{"question": question, "reply": reply})

	o.speak(ctx, epoch, reply)
}

// speak plays text and returns the avatar to listening afterwards. Stale
// epochs are discarded before any audio starts.
func (o *Orchestrator) speak(ctx context.Context, epoch uint64, text string) {
	if o.stale(epoch) {
		return
	}
	o.avatar.SetState(avatar.StateSpeaking)
	if err := o.speaker.Speak(ctx, text); err != nil {
		o.logger.Debug().Err(err).Msg("speak attempt did not complete")
	}
	if o.stale(epoch) {
		return
	}
	o.avatar.SetState(avatar.StateListening)
}

// maybeHint surfaces the "say the name" hint, at most once per cooldown no
// matter how many out-of-scope utterances arrive.
func (o *Orchestrator) maybeHint() {
	o.mu.Lock()
	now := timeNow()
	if now.Sub(o.lastHintAt) < o.cfg.HintCooldown {
		o.mu.Unlock()
		return
	}
	o.lastHintAt = now
	o.mu.Unlock()

	o.logger.Info().Msg("out-of-scope utterance, showing wake hint")
	o.publish(bus.EventTypeHint, map[string]any{"text": o.cfg.Hint})
}

// SetMatcher swaps the wake matcher, used when the variants or threshold
// are tuned through a config reload.
func (o *Orchestrator) SetMatcher(m *wake.Matcher) {
	if m == nil {
		return
	}
	o.mu.Lock()
	o.matcher = m
	o.mu.Unlock()
}

func (o *Orchestrator) currentMatcher() *wake.Matcher {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.matcher
}

func (o *Orchestrator) currentEpoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

func (o *Orchestrator) currentContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

func (o *Orchestrator) stale(epoch uint64) bool {
	return o.currentEpoch() != epoch
}

func (o *Orchestrator) publish(t bus.EventType, data map[string]any) {
	if o.eventBus != nil {
		o.eventBus.Publish(bus.Event{Type: t, Data: data})
	}
}
