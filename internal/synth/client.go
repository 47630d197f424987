// Package synth converts reply text into audio, remotely when possible and
// via an on-device voice as fallback.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// ErrNoAudio is returned when the service answered 2xx with an empty body.
var ErrNoAudio = errors.New("synthesis service returned no audio")

// maxTextLen mirrors the service-side input cap.
const maxTextLen = 3000

// ClientConfig configures the synthesis client.
type ClientConfig struct {
	URL     string
	Voice   string
	Format  string // mp3, wav, opus
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:     "http://localhost:8888/.netlify/functions/tts",
		Voice:   "alloy",
		Format:  "mp3",
		Timeout: 25 * time.Second,
	}
}

// Client is an HTTP client for the synthesis service.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a synthesis service client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "synth-client").Logger(),
	}
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// Synthesize requests audio for the given text and returns the raw audio
// bytes. Errors are for the caller to handle by falling back to an
// on-device voice or text-only degradation.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoAudio
	}
	if len(text) > maxTextLen {
		// Cut on a rune boundary; a split multi-byte character would reach
		// the service as mojibake.
		cut := maxTextLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:   text,
		Voice:  c.config.Voice,
		Format: c.config.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("synthesis request failed: %d - %s", resp.StatusCode, string(payload))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	c.logger.Debug().Int("bytes", len(audio)).Int("textLen", len(text)).Msg("audio synthesized")
	return audio, nil
}
