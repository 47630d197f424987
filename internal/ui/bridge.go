package ui

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/playback"
	"github.com/safetypulse/securito/internal/recognition"
)

// ErrNoView is returned when a capability is requested with no browser view
// connected to supply it.
var ErrNoView = errors.New("no browser view connected")

// errPlaybackStopped completes an in-flight play when Stop is called.
var errPlaybackStopped = errors.New("playback stopped")

// Relay message types. The browser owns the actual SpeechRecognition and
// Audio handles; the bridge drives them over the websocket and feeds their
// events back into the sessions.
const (
	msgRecognitionStart  = "recognition.start"
	msgRecognitionStop   = "recognition.stop"
	msgRecognitionResult = "recognition.result"
	msgRecognitionEnd    = "recognition.end"
	msgRecognitionError  = "recognition.fault"
	msgRecognitionLevel  = "recognition.level"
	msgPlaybackPlay      = "playback.play"
	msgPlaybackStop      = "playback.halt"
	msgPlaybackFinished  = "playback.finished"
	msgPlaybackError     = "playback.fault"
)

// Bridge adapts the connected browser view into the Recognizer and Player
// capabilities the sessions need. With no view connected, recognizer
// creation fails transiently (the session backs off and retries) and play
// attempts fail into the local-voice fallback.
type Bridge struct {
	hub    *Hub
	logger zerolog.Logger

	mu       sync.Mutex
	events   *recognition.Events // active recognizer's callbacks
	playDone chan error
}

// NewBridge wires a bridge into the hub's inbound message stream.
func NewBridge(hub *Hub, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		hub:    hub,
		logger: logger.With().Str("component", "ui-bridge").Logger(),
	}
	hub.SetOnMessage(b.handle)
	return b
}

// Factory returns a recognition.Factory producing browser-backed
// recognizers.
func (b *Bridge) Factory() recognition.Factory {
	return func(language string, events recognition.Events) (recognition.Recognizer, error) {
		if b.hub.ClientCount() == 0 {
			return nil, ErrNoView
		}
		b.mu.Lock()
		b.events = &events
		b.mu.Unlock()
		return &remoteRecognizer{bridge: b, language: language}, nil
	}
}

// Play ships audio to the browser and blocks until it reports the end of
// playback, an error, or the context is cancelled.
func (b *Bridge) Play(ctx context.Context, audio []byte) error {
	if b.hub.ClientCount() == 0 {
		return ErrNoView
	}

	done := make(chan error, 1)
	b.mu.Lock()
	b.playDone = done
	b.mu.Unlock()

	b.hub.Broadcast(msgPlaybackPlay, map[string]any{
		"audio": base64.StdEncoding.EncodeToString(audio),
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		b.hub.Broadcast(msgPlaybackStop, nil)
		return ctx.Err()
	}
}

// Stop halts browser-side playback and unblocks any in-flight Play.
func (b *Bridge) Stop() {
	b.hub.Broadcast(msgPlaybackStop, nil)
	b.completePlay(errPlaybackStopped)
}

// handle routes relay messages from the browser back into the sessions.
func (b *Bridge) handle(msg Message) {
	switch msg.Type {
	case msgRecognitionResult:
		text, _ := msg.Data["text"].(string)
		final, _ := msg.Data["final"].(bool)
		if ev := b.currentEvents(); ev != nil && ev.OnResult != nil {
			ev.OnResult(recognition.Result{Text: text, IsFinal: final})
		}
	case msgRecognitionEnd:
		if ev := b.currentEvents(); ev != nil && ev.OnEnd != nil {
			ev.OnEnd()
		}
	case msgRecognitionError:
		reason, _ := msg.Data["error"].(string)
		if ev := b.currentEvents(); ev != nil && ev.OnError != nil {
			ev.OnError(errors.New(reason))
		}
	case msgRecognitionLevel:
		level, _ := msg.Data["level"].(float64)
		if ev := b.currentEvents(); ev != nil && ev.OnLevel != nil {
			ev.OnLevel(level)
		}
	case msgPlaybackFinished:
		b.completePlay(nil)
	case msgPlaybackError:
		reason, _ := msg.Data["error"].(string)
		if gesture, _ := msg.Data["gesture"].(bool); gesture {
			b.completePlay(playback.ErrGestureRequired)
			return
		}
		b.completePlay(errors.New(reason))
	default:
		b.logger.Debug().Str("type", msg.Type).Msg("unknown relay message")
	}
}

func (b *Bridge) currentEvents() *recognition.Events {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events
}

func (b *Bridge) completePlay(err error) {
	b.mu.Lock()
	done := b.playDone
	b.playDone = nil
	b.mu.Unlock()

	if done != nil {
		done <- err
	}
}

// remoteRecognizer drives the browser's continuous speech recognition.
type remoteRecognizer struct {
	bridge   *Bridge
	language string
}

func (r *remoteRecognizer) Start() error {
	if r.bridge.hub.ClientCount() == 0 {
		return ErrNoView
	}
	r.bridge.hub.Broadcast(msgRecognitionStart, map[string]any{"language": r.language})
	return nil
}

func (r *remoteRecognizer) Stop() {
	r.bridge.hub.Broadcast(msgRecognitionStop, nil)
	r.bridge.mu.Lock()
	r.bridge.events = nil
	r.bridge.mu.Unlock()
}
