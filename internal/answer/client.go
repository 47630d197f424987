// Package answer calls the remote chat service that produces Securito's
// replies.
package answer

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

	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/convo"
)

// ErrEmptyReply is returned when the service answered 2xx but produced no
// usable text.
var ErrEmptyReply = errors.New("answer service returned an empty reply")

// UserContext is opaque caller identity forwarded to the service so replies
// can address the user by name.
type UserContext struct {
	Name string `json:"name,omitempty"`
	GMIN string `json:"gmin,omitempty"`
}

// ClientConfig configures the answer client.
type ClientConfig struct {
	URL     string
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:     "http://localhost:8888/.netlify/functions/chat",
		Timeout: 30 * time.Second,
	}
}

// Client is an HTTP client for the answer service.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates an answer service client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "answer-client").Logger(),
	}
}

type askRequest struct {
	Question string          `json:"question"`
	History  []convo.Message `json:"history"`
	User     UserContext     `json:"user"`
}

type askResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// Ask sends the question plus the recent transcript and returns the reply
// text. The history may be empty. Any failure is returned as an error for
// the orchestrator to convert into a spoken fallback; nothing here panics
// or retries.
func (c *Client) Ask(ctx context.Context, question string, history []convo.Message, user UserContext) (string, error) {
	if history == nil {
		history = []convo.Message{}
	}
	body, err := json.Marshal(askRequest{
		Question: question,
		History:  history,
		User:     user,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("answer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("answer request failed: %d - %s", resp.StatusCode, string(payload))
	}

	var parsed askResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode answer response: %w", err)
	}

	reply := strings.TrimSpace(parsed.Reply)
	if reply == "" {
		if parsed.Error != "" {
			return "", fmt.Errorf("answer service error: %s", parsed.Error)
		}
		return "", ErrEmptyReply
	}

	c.logger.Debug().Int("replyLen", len(reply)).Int("historyLen", len(history)).Msg("answer received")
	return reply, nil
}
