package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePlayer struct {
	mu      sync.Mutex
	played  [][]byte
	stops   int
	failErr error
}

func (p *fakePlayer) Play(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return p.failErr
	}
	p.played = append(p.played, audio)
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

type fakeSynthesizer struct {
	audio []byte
	err   error
	calls int
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

type fakeLocal struct {
	available bool
	err       error
	spoken    []string
}

func (l *fakeLocal) Available() bool { return l.available }

func (l *fakeLocal) Speak(ctx context.Context, text string) error {
	if l.err != nil {
		return l.err
	}
	l.spoken = append(l.spoken, text)
	return nil
}

type fakeGuard struct {
	mu       sync.Mutex
	speaking string
	active   bool
	history  []bool
}

func (g *fakeGuard) SetSpeaking(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speaking = text
}

func (g *fakeGuard) SetPlaybackActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = active
	g.history = append(g.history, active)
}

func (g *fakeGuard) isActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

type fakeRecognition struct {
	mu         sync.Mutex
	suppressed int
	resumed    int
	lastDelay  time.Duration
}

func (r *fakeRecognition) Suppress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressed++
}

func (r *fakeRecognition) Resume(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed++
	r.lastDelay = delay
}

func (r *fakeRecognition) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed, r.resumed
}

func newTestSession(synth *fakeSynthesizer, local *fakeLocal, player *fakePlayer, guard *fakeGuard, rec *fakeRecognition) *Session {
	var l Local
	if local != nil {
		l = local
	}
	return NewSession(SessionConfig{ResumeDelay: 10 * time.Millisecond}, synth, l, player, guard, rec, nil, zerolog.Nop())
}

func TestSpeak_Success(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte{1, 2, 3}}
	player := &fakePlayer{}
	guard := &fakeGuard{}
	rec := &fakeRecognition{}
	s := newTestSession(synth, nil, player, guard, rec)

	if err := s.Speak(context.Background(), "hola"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if player.playCount() != 1 {
		t.Fatalf("expected 1 play, got %d", player.playCount())
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after speak, got %s", s.State())
	}
	sup, res := rec.counts()
	if sup != 1 || res != 1 {
		t.Errorf("expected 1 suppress and 1 resume, got %d / %d", sup, res)
	}
	if rec.lastDelay != 10*time.Millisecond {
		t.Errorf("unexpected resume delay %v", rec.lastDelay)
	}
	if guard.isActive() {
		t.Error("guard should not report playback active after speak")
	}
	if guard.speaking != "hola" {
		t.Errorf("guard should be primed with the spoken text, got %q", guard.speaking)
	}
}

func TestSpeak_EmptyTextIsNoop(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte{1}}
	player := &fakePlayer{}
	rec := &fakeRecognition{}
	s := newTestSession(synth, nil, player, &fakeGuard{}, rec)

	if err := s.Speak(context.Background(), "   "); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if synth.calls != 0 || player.playCount() != 0 {
		t.Error("empty text should not reach synthesis or playback")
	}
	if sup, _ := rec.counts(); sup != 0 {
		t.Error("empty text should not suppress recognition")
	}
}

func TestSpeak_SynthesisFailureFallsBackToLocal(t *testing.T) {
	synth := &fakeSynthesizer{err: errors.New("service down")}
	local := &fakeLocal{available: true}
	player := &fakePlayer{}
	rec := &fakeRecognition{}
	s := newTestSession(synth, local, player, &fakeGuard{}, rec)

	if err := s.Speak(context.Background(), "hola"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if len(local.spoken) != 1 || local.spoken[0] != "hola" {
		t.Fatalf("expected local voice to speak the text, got %v", local.spoken)
	}
	if player.playCount() != 0 {
		t.Error("remote audio should not have been played")
	}
	if _, res := rec.counts(); res != 1 {
		t.Error("recognition must be resumed after the local fallback")
	}
}

func TestSpeak_TextOnlyDegradation(t *testing.T) {
	synth := &fakeSynthesizer{err: errors.New("service down")}
	guard := &fakeGuard{}
	rec := &fakeRecognition{}
	s := newTestSession(synth, &fakeLocal{available: false}, &fakePlayer{}, guard, rec)

	// Failure to speak is never fatal.
	if err := s.Speak(context.Background(), "hola"); err != nil {
		t.Fatalf("text-only degradation should not return an error: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
	if guard.isActive() {
		t.Error("guard must be released even when nothing was spoken")
	}
	if _, res := rec.counts(); res != 1 {
		t.Error("recognition must be resumed even when nothing was spoken")
	}

	// Nothing was audible, so an identical later utterance from the user
	// must not be mistaken for an echo.
	guard.mu.Lock()
	speaking := guard.speaking
	guard.mu.Unlock()
	if speaking != "" {
		t.Errorf("text-only degradation must clear the expected-echo text, got %q", speaking)
	}
}

func TestSpeak_GestureRequiredRetriedOnce(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte{7}}
	player := &fakePlayer{failErr: ErrGestureRequired}
	rec := &fakeRecognition{}
	s := newTestSession(synth, nil, player, &fakeGuard{}, rec)

	err := s.Speak(context.Background(), "hola")
	if !errors.Is(err, ErrGestureRequired) {
		t.Fatalf("expected ErrGestureRequired, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle while waiting for gesture, got %s", s.State())
	}

	// The user taps: the held audio plays without re-synthesizing.
	player.mu.Lock()
	player.failErr = nil
	player.mu.Unlock()
	s.ResumeAfterGesture(context.Background())

	if player.playCount() != 1 {
		t.Fatalf("expected the pending audio to play once, got %d", player.playCount())
	}
	if synth.calls != 1 {
		t.Errorf("retry must reuse the already-synthesized audio, got %d synth calls", synth.calls)
	}

	// A second gesture with nothing pending is a no-op.
	s.ResumeAfterGesture(context.Background())
	if player.playCount() != 1 {
		t.Error("gesture with no pending audio should not replay")
	}
}

// overlapPlayer mimics an output handle whose teardown lags: each Play
// blocks until released, and Stop unblocks the oldest pending play with an
// error a little while later.
type overlapPlayer struct {
	mu      sync.Mutex
	created int
	pending []chan error
}

func (p *overlapPlayer) Play(ctx context.Context, audio []byte) error {
	ch := make(chan error, 1)
	p.mu.Lock()
	p.created++
	p.pending = append(p.pending, ch)
	p.mu.Unlock()
	return <-ch
}

func (p *overlapPlayer) Stop() {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	ch := p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()

	go func() {
		time.Sleep(15 * time.Millisecond)
		ch <- errors.New("playback interrupted")
	}()
}

func (p *overlapPlayer) release(err error) {
	p.mu.Lock()
	ch := p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()
	ch <- err
}

func (p *overlapPlayer) plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// A reply interrupted mid-play must not run its end-of-playback bookkeeping
// after its successor has started: the microphone stays suppressed and the
// echo filter stays armed for the whole of the second reply.
func TestSpeak_InterruptedSpeakKeepsMicrophoneSuppressed(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte{1}}
	player := &overlapPlayer{}
	guard := &fakeGuard{}
	rec := &fakeRecognition{}
	s := NewSession(SessionConfig{ResumeDelay: 5 * time.Millisecond}, synth, nil, player, guard, rec, nil, zerolog.Nop())

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Speak(context.Background(), "primera respuesta") }()
	waitFor(t, "first play to start", func() bool { return player.plays() == 1 })

	// The second Speak halts the first; its play unblocks with an error
	// shortly after the second one has started.
	secondDone := make(chan error, 1)
	go func() { secondDone <- s.Speak(context.Background(), "segunda respuesta") }()
	waitFor(t, "second play to start", func() bool { return player.plays() == 2 })

	// Wait for the interrupted speak to finish its teardown completely.
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first Speak never returned")
	}

	// The second reply is still playing; the stale teardown must not have
	// released the guard or scheduled a microphone resume.
	if !guard.isActive() {
		t.Error("guard released while the second reply was still playing")
	}
	if _, res := rec.counts(); res != 0 {
		t.Errorf("recognition resumed during active playback, %d resumes", res)
	}
	if s.State() != StatePlaying {
		t.Errorf("expected playing, got %s", s.State())
	}

	player.release(nil)
	select {
	case err := <-secondDone:
		if err != nil {
			t.Fatalf("second Speak failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Speak never returned")
	}

	if guard.isActive() {
		t.Error("guard must be released once the second reply ends")
	}
	if _, res := rec.counts(); res != 1 {
		t.Errorf("expected exactly one resume, from the surviving speak, got %d", res)
	}
}

func TestStop_HaltsAndResets(t *testing.T) {
	player := &fakePlayer{}
	guard := &fakeGuard{}
	s := newTestSession(&fakeSynthesizer{audio: []byte{1}}, nil, player, guard, &fakeRecognition{})

	s.Stop()
	if player.stops == 0 {
		t.Error("Stop must halt the output handle")
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after Stop, got %s", s.State())
	}
	if guard.isActive() {
		t.Error("Stop must release the guard")
	}
}

func TestSpeak_GuardActiveWhilePlaying(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte{1}}
	guard := &fakeGuard{}
	s := newTestSession(synth, nil, &fakePlayer{}, guard, &fakeRecognition{})

	if err := s.Speak(context.Background(), "hola"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	// The guard must have been raised before playback and lowered after.
	guard.mu.Lock()
	defer guard.mu.Unlock()
	if len(guard.history) < 2 || guard.history[0] != true || guard.history[len(guard.history)-1] != false {
		t.Errorf("expected guard raised then lowered, got %v", guard.history)
	}
}
