// Package avatar projects the listening/thinking/speaking activity of the
// assistant into a small visual state machine with organic-feeling timers.
package avatar

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/bus"
)

// State is the avatar's visual state. It is a projection of the recognition
// and playback sessions, recomputed on every transition, and never drives
// control decisions itself.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

// Frame is the visual frame currently shown.
type Frame string

const (
	FrameNeutral     Frame = "neutral"
	FrameBlink       Frame = "blink"
	FrameMouthOpen   Frame = "mouth_open"
	FrameMouthClosed Frame = "mouth_closed"
)

// Config holds the animation timing constants.
type Config struct {
	BlinkInterval time.Duration
	BlinkJitter   time.Duration
	BlinkHold     time.Duration
	FlapInterval  time.Duration
	FlapJitter    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BlinkInterval: 4 * time.Second,
		BlinkJitter:   2 * time.Second,
		BlinkHold:     150 * time.Millisecond,
		FlapInterval:  120 * time.Millisecond,
		FlapJitter:    80 * time.Millisecond,
	}
}

// StateMachine owns the avatar state and two cosmetic timer loops: a jittered
// blink while not speaking and a jittered mouth flap while speaking. Every
// transition cancels the pending tick before arming the next one, so no
// timer can leak across a state change.
type StateMachine struct {
	cfg      Config
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu      sync.Mutex
	state   State
	frame   Frame
	epoch   uint64 // bumped on every transition; stale ticks check it and bail
	timer   *time.Timer
	onState func(State)
	onFrame func(Frame)
}

// NewStateMachine creates the avatar state machine in Idle.
func NewStateMachine(cfg Config, eventBus *bus.EventBus, logger zerolog.Logger) *StateMachine {
	if cfg.BlinkInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &StateMachine{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "avatar").Logger(),
		state:    StateIdle,
		frame:    FrameNeutral,
	}
}

// SetOnState registers a callback invoked on every state transition.
func (m *StateMachine) SetOnState(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// SetOnFrame registers a callback invoked on every frame change.
func (m *StateMachine) SetOnFrame(fn func(Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// State returns the current avatar state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Frame returns the frame currently shown.
func (m *StateMachine) Frame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Start arms the idle animation. Call once after wiring.
func (m *StateMachine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked()
}

// Stop cancels any pending animation tick.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
}

// SetState transitions the avatar. Idempotent for the same state. The
// pending animation tick is always cancelled first and the frame reset to
// neutral, then the animation loop for the new state is armed.
func (m *StateMachine) SetState(state State) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = state
	m.cancelLocked()
	m.setFrameLocked(FrameNeutral)
	m.armLocked()
	cb := m.onState
	m.mu.Unlock()

	m.logger.Debug().Str("old", string(old)).Str("new", string(state)).Msg("avatar state changed")
	if cb != nil {
		cb(state)
	}
	m.publish(bus.EventTypeAvatarStateChanged, map[string]any{"state": string(state)})
}

// cancelLocked invalidates the pending tick. Caller holds m.mu.
func (m *StateMachine) cancelLocked() {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// armLocked schedules the animation loop for the current state. Caller holds
// m.mu.
func (m *StateMachine) armLocked() {
	epoch := m.epoch
	if m.state == StateSpeaking {
		m.timer = time.AfterFunc(m.flapDelay(), func() { m.flapTick(epoch, FrameMouthOpen) })
		return
	}
	// Blink runs in every non-speaking state, never while the mouth flap
	// owns the frame.
	m.timer = time.AfterFunc(m.blinkDelay(), func() { m.blinkTick(epoch) })
}

// blinkTick briefly shows the blink frame, restores neutral, and reschedules.
func (m *StateMachine) blinkTick(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state == StateSpeaking {
		m.mu.Unlock()
		return
	}
	m.setFrameLocked(FrameBlink)
	m.timer = time.AfterFunc(m.cfg.BlinkHold, func() {
		m.mu.Lock()
		if epoch != m.epoch {
			m.mu.Unlock()
			return
		}
		m.setFrameLocked(FrameNeutral)
		m.timer = time.AfterFunc(m.blinkDelay(), func() { m.blinkTick(epoch) })
		m.mu.Unlock()
	})
	m.mu.Unlock()
}

// flapTick alternates the mouth frames with an occasional longer pause to
// break the mechanical rhythm.
func (m *StateMachine) flapTick(epoch uint64, next Frame) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateSpeaking {
		m.mu.Unlock()
		return
	}
	m.setFrameLocked(next)

	following := FrameMouthClosed
	if next == FrameMouthClosed {
		following = FrameMouthOpen
	}
	delay := m.flapDelay()
	if rand.Intn(6) == 0 {
		delay += 3 * m.cfg.FlapInterval
	}
	m.timer = time.AfterFunc(delay, func() { m.flapTick(epoch, following) })
	m.mu.Unlock()
}

func (m *StateMachine) blinkDelay() time.Duration {
	return jittered(m.cfg.BlinkInterval, m.cfg.BlinkJitter)
}

func (m *StateMachine) flapDelay() time.Duration {
	return jittered(m.cfg.FlapInterval, m.cfg.FlapJitter)
}

// jittered returns base ± up to jitter, never below a small floor.
func jittered(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	d := base - jitter + time.Duration(rand.Int63n(int64(2*jitter)))
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// setFrameLocked updates the frame and notifies. Caller holds m.mu.
func (m *StateMachine) setFrameLocked(frame Frame) {
	if m.frame == frame {
		return
	}
	m.frame = frame
	cb := m.onFrame
	if cb != nil {
		go cb(frame)
	}
	m.publish(bus.EventTypeAvatarFrameChanged, map[string]any{"frame": string(frame)})
}

func (m *StateMachine) publish(t bus.EventType, data map[string]any) {
	if m.eventBus != nil {
		m.eventBus.Publish(bus.Event{Type: t, Data: data})
	}
}
