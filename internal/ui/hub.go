// Package ui streams the assistant's visible surface (avatar frames, live
// captions, hints, log lines) to a browser view over a local websocket, and
// feeds user input back in.
package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/safetypulse/securito/internal/bus"
)

// Message is the wire envelope in both directions.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Inbound message types from the browser.
const (
	inboundGesture = "gesture" // any user interaction; unlocks blocked audio
	inboundText    = "text"    // typed question, the text-only fallback path
	inboundEnter   = "enter"   // assistant view opened
	inboundLeave   = "leave"   // assistant view closed
)

// Hub accepts websocket clients and broadcasts every UI-relevant event to
// all of them. One hub serves the whole process.
type Hub struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server
	logger   zerolog.Logger

	mu        sync.Mutex
	clients   map[*websocket.Conn]chan []byte
	onGesture func()
	onText    func(string)
	onEnter   func()
	onLeave   func()
	onMessage func(Message) // fallback for message types the hub doesn't own
}

// NewHub creates a hub listening on addr once started.
func NewHub(addr string, logger zerolog.Logger) *Hub {
	return &Hub{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local-only feed; the listener binds to loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "ui").Logger(),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// sendBuffer is the per-client outbound queue depth. A client that falls
// this far behind the feed gets dropped instead of stalling it.
const sendBuffer = 64

// SetOnGesture registers the handler for a user interaction.
func (h *Hub) SetOnGesture(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onGesture = fn
}

// SetOnText registers the handler for a typed question.
func (h *Hub) SetOnText(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onText = fn
}

// SetOnEnter registers the handler for the view opening.
func (h *Hub) SetOnEnter(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnter = fn
}

// SetOnLeave registers the handler for the view closing.
func (h *Hub) SetOnLeave(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLeave = fn
}

// SetOnMessage registers a fallback handler for inbound message types not
// handled by the hub itself, e.g. the recognition/playback relay.
func (h *Hub) SetOnMessage(fn func(Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// Attach forwards bus events to connected clients. Event payloads pass
// through unchanged; the event type becomes the message type.
func (h *Hub) Attach(eventBus *bus.EventBus) {
	forwarded := []bus.EventType{
		bus.EventTypeInterimResult,
		bus.EventTypeUtteranceReady,
		bus.EventTypeMicLevel,
		bus.EventTypeRecognitionStarted,
		bus.EventTypeRecognitionStopped,
		bus.EventTypePlaybackStarted,
		bus.EventTypePlaybackEnded,
		bus.EventTypePlaybackBlocked,
		bus.EventTypePlaybackUnlocked,
		bus.EventTypeAvatarStateChanged,
		bus.EventTypeAvatarFrameChanged,
		bus.EventTypeTurnStarted,
		bus.EventTypeTurnCompleted,
		bus.EventTypeTurnFailed,
		bus.EventTypeHint,
	}
	eventBus.SubscribeMultiple(forwarded, func(e bus.Event) {
		h.Broadcast(string(e.Type), e.Data)
	})
}

// Start serves the websocket endpoint. Blocks until the server stops.
func (h *Hub) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	h.server = &http.Server{Addr: h.addr, Handler: mux}
	h.logger.Info().Str("addr", h.addr).Msg("ui feed listening")

	err := h.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close disconnects all clients and stops the server.
func (h *Hub) Close() {
	h.mu.Lock()
	for conn, send := range h.clients {
		close(send)
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]chan []byte)
	server := h.server
	h.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}

// Broadcast sends a message to every connected client. It only enqueues:
// the actual socket writes happen in each client's writeLoop, so a slow or
// dead client can never stall the feed. A client whose queue is full gets
// dropped.
func (h *Hub) Broadcast(msgType string, data map[string]any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- payload:
		default:
			h.logger.Debug().Msg("dropping slow ui client")
			delete(h.clients, conn)
			close(send)
			conn.Close()
		}
	}
}

// removeClient unregisters a client; safe to call more than once.
func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	send, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	send := make(chan []byte, sendBuffer)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("ui client connected")

	go h.writeLoop(conn, send)
	go h.readLoop(conn)
}

// writeLoop drains one client's outbound queue onto its socket.
func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	for payload := range send {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug().Err(err).Msg("dropping ui client")
			h.removeClient(conn)
			return
		}
	}
}

// readLoop handles inbound messages until the client disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Debug().Err(err).Msg("bad ui message")
			continue
		}
		h.dispatch(msg)
	}
}

func (h *Hub) dispatch(msg Message) {
	h.mu.Lock()
	onGesture, onText, onEnter, onLeave := h.onGesture, h.onText, h.onEnter, h.onLeave
	onMessage := h.onMessage
	h.mu.Unlock()

	switch msg.Type {
	case inboundGesture:
		if onGesture != nil {
			onGesture()
		}
	case inboundText:
		text, _ := msg.Data["text"].(string)
		if text != "" && onText != nil {
			onText(text)
		}
	case inboundEnter:
		if onEnter != nil {
			onEnter()
		}
	case inboundLeave:
		if onLeave != nil {
			onLeave()
		}
	default:
		if onMessage != nil {
			onMessage(msg)
			return
		}
		h.logger.Debug().Str("type", msg.Type).Msg("unknown ui message type")
	}
}
