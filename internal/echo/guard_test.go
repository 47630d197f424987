package echo

import (
	"testing"
	"time"
)

func withFixedClock(t *testing.T, at *time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return *at }
	t.Cleanup(func() { timeNow = orig })
}

func TestShouldDrop_ExactEchoWhilePlaybackIdle(t *testing.T) {
	g := NewGuard()
	g.SetSpeaking("hola buenos dias")

	// The containment rule applies even after playback has ended.
	if !g.ShouldDrop("hola buenos dias") {
		t.Error("expected exact echo of last spoken text to be dropped")
	}
}

func TestShouldDrop_UnrelatedUtterancePasses(t *testing.T) {
	g := NewGuard()
	g.SetSpeaking("hola buenos dias")

	if g.ShouldDrop("cuéntame sobre seguridad") {
		t.Error("expected unrelated utterance to pass")
	}
}

func TestShouldDrop_ContainmentBothDirections(t *testing.T) {
	g := NewGuard()
	g.SetSpeaking("hola buenos dias como estas")

	if !g.ShouldDrop("buenos dias") {
		t.Error("expected substring of spoken text to be dropped")
	}

	g.SetSpeaking("buenos dias")
	if !g.ShouldDrop("hola buenos dias amigos") {
		t.Error("expected superstring of spoken text to be dropped")
	}
}

func TestShouldDrop_PlaybackActiveDropsEverything(t *testing.T) {
	g := NewGuard()
	g.SetPlaybackActive(true)

	if !g.ShouldDrop("cualquier cosa") {
		t.Error("expected everything dropped while playback is active")
	}

	g.SetPlaybackActive(false)
	if g.ShouldDrop("otra cosa distinta") {
		t.Error("expected pass after playback ends")
	}
}

func TestShouldDrop_DuplicateWithinWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	withFixedClock(t, &now)

	g := NewGuard()
	if g.ShouldDrop("dime el top") {
		t.Fatal("first utterance should pass")
	}

	now = now.Add(500 * time.Millisecond)
	if !g.ShouldDrop("dime el top") {
		t.Error("expected duplicate within 2s to be dropped")
	}

	now = now.Add(3 * time.Second)
	if g.ShouldDrop("dime el top") {
		t.Error("expected repeat after the window to pass")
	}
}

func TestShouldDrop_NormalizedComparison(t *testing.T) {
	g := NewGuard()
	g.SetSpeaking("Hola, ¡buenos días!")

	if !g.ShouldDrop("hola buenos dias") {
		t.Error("expected comparison on normalized text")
	}
}

func TestShouldDrop_EmptyHeard(t *testing.T) {
	g := NewGuard()
	if !g.ShouldDrop("   ") {
		t.Error("expected blank utterance to be dropped")
	}
}

func TestReset(t *testing.T) {
	g := NewGuard()
	g.SetSpeaking("hola")
	g.SetPlaybackActive(true)
	g.Reset()

	if g.ShouldDrop("hola") {
		t.Error("expected no echo history after Reset")
	}
}
