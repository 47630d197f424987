package playback

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/echo"
	"github.com/safetypulse/securito/internal/recognition"
)

type interlockRecognizer struct {
	events recognition.Events
}

func (r *interlockRecognizer) Start() error { return nil }

func (r *interlockRecognizer) Stop() {}

// invariantPlayer asserts the microphone is off for the whole duration of
// every play.
type invariantPlayer struct {
	check func()
}

func (p *invariantPlayer) Play(ctx context.Context, audio []byte) error {
	p.check()
	time.Sleep(2 * time.Millisecond)
	p.check()
	return nil
}

func (p *invariantPlayer) Stop() {}

// The two sessions are mutually exclusive: across many interleavings of
// start/stop/speak, recognition must never report Running while audio is
// playing.
func TestRecognitionNeverRunsWhilePlaying(t *testing.T) {
	factory := func(language string, events recognition.Events) (recognition.Recognizer, error) {
		return &interlockRecognizer{events: events}, nil
	}
	recSession := recognition.NewSession(recognition.SessionConfig{
		Language:       "es-MX",
		DebounceDelay:  20 * time.Millisecond,
		RestartBackoff: 5 * time.Millisecond,
	}, factory, nil, zerolog.Nop())

	var violations atomic.Int32
	player := &invariantPlayer{check: func() {
		if recSession.IsRunning() {
			violations.Add(1)
		}
	}}

	playSession := NewSession(SessionConfig{ResumeDelay: 2 * time.Millisecond},
		&fakeSynthesizer{audio: []byte{1}}, nil, player, echo.NewGuard(), recSession, nil, zerolog.Nop())

	onUtterance := func(recognition.Utterance) {}
	recSession.Start(onUtterance)

	for i := 0; i < 60; i++ {
		playSession.Speak(context.Background(), "una respuesta hablada")

		switch i % 7 {
		case 0:
			recSession.Stop()
			recSession.Start(onUtterance)
		case 3:
			// Let the scheduled resume land so the microphone is genuinely
			// hot before the next speak.
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}

	if n := violations.Load(); n != 0 {
		t.Fatalf("recognition was running during playback %d times", n)
	}
	recSession.Stop()
}
