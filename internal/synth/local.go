package synth

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog"
)

// Local is an on-device speech capability used when the remote synthesis
// service is unreachable. Speaking locally plays directly through the
// system voice; no audio bytes come back.
type Local interface {
	Available() bool
	Speak(ctx context.Context, text string) error
}

// CommandSpeaker speaks through the platform's native TTS command:
// 'say' on macOS, 'espeak-ng'/'espeak' elsewhere.
type CommandSpeaker struct {
	logger zerolog.Logger
}

// NewCommandSpeaker creates the native-voice fallback.
func NewCommandSpeaker(logger zerolog.Logger) *CommandSpeaker {
	return &CommandSpeaker{
		logger: logger.With().Str("component", "local-tts").Logger(),
	}
}

// command resolves the platform TTS binary, or "" when none exists.
func (s *CommandSpeaker) command() string {
	if runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("say"); err == nil {
			return "say"
		}
		return ""
	}
	for _, name := range []string{"espeak-ng", "espeak"} {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// Available reports whether a native TTS command exists on this system.
func (s *CommandSpeaker) Available() bool {
	return s.command() != ""
}

// Speak runs the native TTS command and blocks until playback finishes or
// the context is cancelled.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	name := s.command()
	if name == "" {
		return fmt.Errorf("no native TTS command available")
	}

	s.logger.Debug().Str("command", name).Int("textLen", len(text)).Msg("speaking via native voice")
	cmd := exec.CommandContext(ctx, name, text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("native TTS failed: %w", err)
	}
	return nil
}
