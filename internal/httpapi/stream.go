package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"callisto/internal/metrics"
)

// writeTimeout bounds a single frame write to one client.
const writeTimeout = 5 * time.Second

// streamClient is one WebSocket subscriber managed by the Hub.
type streamClient struct {
	send chan []byte
}

// Hub fans events out to every connected WebSocket client. Register,
// unregister and broadcast all flow through channels so the client map is
// only ever touched by the Run loop. Slow consumers are dropped rather than
// allowed to stall the broadcast.
type Hub struct {
	clients    map[*streamClient]bool
	broadcast  chan []byte
	register   chan *streamClient
	unregister chan *streamClient
	done       chan struct{}
	rec        *metrics.Recorder
	log        *slog.Logger
}

// NewHub creates a Hub. Call Run in a goroutine before accepting clients.
func NewHub(rec *metrics.Recorder) *Hub {
	return &Hub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		done:       make(chan struct{}),
		rec:        rec,
		log:        slog.Default().With("component", "stream"),
	}
}

// Run drives the hub's event loop until ctx is cancelled, then closes every
// client channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
				h.rec.RecordWSDisconnect()
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.rec.RecordWSConnect()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.rec.RecordWSDisconnect()
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it.
					delete(h.clients, c)
					close(c.send)
					h.rec.RecordWSDisconnect()
				}
			}
		}
	}
}

// Publish broadcasts one event to all connected clients. Safe to call from
// any goroutine; drops the event if the hub's queue is full.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := json.Marshal(StreamEvent{Type: eventType, Time: time.Now().UTC(), Data: data})
	if err != nil {
		h.log.Error("encoding stream event", "type", eventType, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("stream backlog full, event dropped", "type", eventType)
	}
}

// add hands c to the Run loop. It reports false when the hub has already
// shut down, so clients arriving mid-shutdown are turned away instead of
// blocking on the register channel forever.
func (h *Hub) add(c *streamClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *streamClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ServeHTTP upgrades the request to a WebSocket, registers the client, and
// pumps hub messages to it until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := &streamClient{send: make(chan []byte, 16)}
	if !h.add(c) {
		return
	}
	defer h.remove(c)

	// The stream is write-only; CloseRead surfaces client disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
