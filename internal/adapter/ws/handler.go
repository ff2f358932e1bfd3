// Package ws pushes pipeline lifecycle events to connected dashboard
// clients over WebSocket. Delivery is best effort: the durable record
// of every task, negotiation and prediction lives in Postgres, so a
// dropped connection loses nothing but immediacy.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub tracks active dashboard connections and fans events out to them.
type Hub struct {
	origin string
	log    *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub. origin restricts which browser origins may
// connect; empty means any, for local development. A nil logger falls
// back to slog.Default.
func NewHub(origin string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		origin: origin,
		log:    log,
		conns:  make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection and registers
// it with the hub until the peer disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.origin == "" {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = []string{h.origin}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("dashboard connected", "remote", r.RemoteAddr)

	// Read loop, to detect disconnects and consume pings. Clients
	// never send application messages; the stream is one way.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a message to every connected client. Write failures
// drop the failing connection and never block the caller's work.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("dashboard disconnected")
	}
}
