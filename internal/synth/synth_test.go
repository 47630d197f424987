package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(&ClientConfig{URL: url, Voice: "alloy", Format: "mp3", Timeout: 5 * time.Second}, zerolog.Nop())
}

func TestSynthesize_Success(t *testing.T) {
	var captured synthesizeRequest
	audio := []byte{0xFF, 0xFB, 0x90, 0x00} // mp3 frame header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Synthesize(context.Background(), "hola, soy Securito")
	require.NoError(t, err)
	assert.Equal(t, audio, got)
	assert.Equal(t, "hola, soy Securito", captured.Text)
	assert.Equal(t, "alloy", captured.Voice)
	assert.Equal(t, "mp3", captured.Format)
}

func TestSynthesize_TruncatesLongText(t *testing.T) {
	var captured synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte{1})
	}))
	defer srv.Close()

	long := make([]byte, maxTextLen+500)
	for i := range long {
		long[i] = 'a'
	}

	c := newTestClient(srv.URL)
	_, err := c.Synthesize(context.Background(), string(long))
	require.NoError(t, err)
	assert.Len(t, captured.Text, maxTextLen)
}

func TestSynthesize_TruncatesOnRuneBoundary(t *testing.T) {
	var captured synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte{1})
	}))
	defer srv.Close()

	// The cap falls in the middle of the "ñ"; the whole rune must go.
	long := strings.Repeat("a", maxTextLen-1) + "ñó"

	c := newTestClient(srv.URL)
	_, err := c.Synthesize(context.Background(), long)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(captured.Text))
	assert.Equal(t, strings.Repeat("a", maxTextLen-1), captured.Text)
}

func TestSynthesize_EmptyText(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.Synthesize(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestSynthesize_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"tts failed"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Synthesize(context.Background(), "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSynthesize_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Synthesize(context.Background(), "hola")
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestSynthesize_NetworkError(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.Synthesize(context.Background(), "hola")
	assert.Error(t, err)
}
