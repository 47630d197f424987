// Securito - voice conversation controller for the safety assistant
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/safetypulse/securito/internal/answer"
	"github.com/safetypulse/securito/internal/avatar"
	"github.com/safetypulse/securito/internal/bus"
	"github.com/safetypulse/securito/internal/config"
	"github.com/safetypulse/securito/internal/convo"
	"github.com/safetypulse/securito/internal/echo"
	"github.com/safetypulse/securito/internal/logging"
	"github.com/safetypulse/securito/internal/orchestrator"
	"github.com/safetypulse/securito/internal/playback"
	"github.com/safetypulse/securito/internal/recognition"
	"github.com/safetypulse/securito/internal/synth"
	"github.com/safetypulse/securito/internal/ui"
	"github.com/safetypulse/securito/internal/wake"
)

func main() {
	syslog, err := logging.New(nil)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	mainLog := syslog.Component("main")
	mainLog.Info().Msg("========================================")
	mainLog.Info().Msg("Securito starting")

	cfg, err := config.Load()
	if err != nil {
		mainLog.Warn().Err(err).Msg("config load failed, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.NewEventBus()

	hub := ui.NewHub(cfg.UI.ListenAddr, syslog.Zerolog())
	hub.Attach(eventBus)
	bridge := ui.NewBridge(hub, syslog.Zerolog())

	guard := echo.NewGuard()
	window := convo.NewWindow()
	transcript := convo.NewTranscript(cfg.Conversation.MaxMessages)

	recSession := recognition.NewSession(recognition.SessionConfig{
		Language:       cfg.Recognition.Language,
		DebounceDelay:  cfg.Recognition.DebounceDelay,
		RestartBackoff: cfg.Recognition.RestartBackoff,
	}, bridge.Factory(), eventBus, syslog.Zerolog())

	synthClient := synth.NewClient(&synth.ClientConfig{
		URL:     cfg.Services.TTSURL,
		Voice:   cfg.Playback.Voice,
		Format:  cfg.Playback.Format,
		Timeout: cfg.Services.Timeout,
	}, syslog.Zerolog())
	localVoice := synth.NewCommandSpeaker(syslog.Zerolog())

	playSession := playback.NewSession(playback.SessionConfig{
		ResumeDelay: cfg.Playback.ResumeDelay,
	}, synthClient, localVoice, bridge, guard, recSession, eventBus, syslog.Zerolog())

	answerClient := answer.NewClient(&answer.ClientConfig{
		URL:     cfg.Services.ChatURL,
		Timeout: cfg.Services.Timeout,
	}, syslog.Zerolog())

	avatarMachine := avatar.NewStateMachine(avatar.Config{
		BlinkInterval: cfg.Avatar.BlinkInterval,
		BlinkJitter:   cfg.Avatar.BlinkJitter,
		BlinkHold:     cfg.Avatar.BlinkHold,
		FlapInterval:  cfg.Avatar.FlapInterval,
		FlapJitter:    cfg.Avatar.FlapJitter,
	}, eventBus, syslog.Zerolog())

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.WindowExtension = cfg.Wake.WindowExtension
	orchCfg.HintCooldown = cfg.Conversation.HintCooldown

	user := answer.UserContext{
		Name: os.Getenv("SECURITO_USER_NAME"),
		GMIN: os.Getenv("SECURITO_USER_GMIN"),
	}

	orch := orchestrator.New(orchCfg,
		wake.NewMatcher(cfg.Wake.Variants, cfg.Wake.Threshold),
		window, transcript, guard,
		recSession, playSession, answerClient, avatarMachine,
		user, eventBus, syslog.Zerolog())

	// Browser view drives the session lifecycle and the fallback inputs.
	hub.SetOnEnter(func() { orch.EnterView(ctx) })
	hub.SetOnLeave(orch.LeaveView)
	hub.SetOnText(orch.SubmitText)
	hub.SetOnGesture(func() { playSession.ResumeAfterGesture(ctx) })

	// Stream log lines to the on-screen debug panel.
	syslog.SetOnEntry(func(e logging.Entry) {
		hub.Broadcast("log", map[string]any{
			"timestamp": e.Timestamp,
			"level":     e.Level,
			"component": e.Component,
			"message":   e.Message,
		})
	})

	// Wake variants and thresholds are tunable against a live session.
	watcher, err := config.NewWatcher(syslog.Zerolog(), func(c *config.Config) {
		orch.SetMatcher(wake.NewMatcher(c.Wake.Variants, c.Wake.Threshold))
	})
	if err != nil {
		mainLog.Warn().Err(err).Msg("config watch unavailable")
	} else {
		defer watcher.Close()
	}

	avatarMachine.Start()
	defer avatarMachine.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- hub.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLog.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			mainLog.Error().Err(err).Msg("ui feed failed")
		}
	}

	orch.LeaveView()
	hub.Close()
	mainLog.Info().Msg("Securito stopped")
}
