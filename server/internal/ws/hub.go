package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulseguard/pulseguard/server/internal/engine"
	"github.com/pulseguard/pulseguard/server/internal/event"
	"github.com/pulseguard/pulseguard/server/internal/metrics"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are left to the reverse proxy in front of the server.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients: the latest statuses on
// connect, then one message per engine/alert/training event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// statusEntry is the per-monitor line of the on-connect snapshot.
type statusEntry struct {
	MonitorID string    `json:"monitor_id"`
	Status    string    `json:"status"`
	Level     string    `json:"burn_level"`
	LastCheck time.Time `json:"last_check_at,omitempty"`
}

// Hub manages WebSocket clients on /ws/stream. Each client gets its own
// event-bus subscription; ?monitor= narrows it to one monitor. There is no
// replay: a reconnecting client starts from the snapshot it receives on
// connect.
type Hub struct {
	eng *engine.Engine
	bus *event.Bus
	met *metrics.Set

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	cancel func() // tears down the bus subscription
}

// New creates a Hub over the engine and event bus.
func New(eng *engine.Engine, bus *event.Bus, met *metrics.Set) *Hub {
	return &Hub{
		eng:     eng,
		bus:     bus,
		met:     met,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection, sends the current snapshot, and streams
// events until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	monitorID := r.URL.Query().Get("monitor")
	ch, cancel := h.bus.Subscribe(monitorID)

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		cancel: cancel,
	}
	h.register(c)
	defer h.unregister(c)

	// The latest known state goes out first so the UI renders immediately.
	if data, err := h.snapshotMessage(monitorID); err == nil {
		c.send <- data
	}

	go h.forward(c, ch)
	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.met.StreamClientConnected()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		c.cancel()
		h.met.StreamClientDisconnected()
	}
}

// forward drains the client's bus subscription into its send buffer. A
// client too slow to keep up is disconnected rather than allowed to pile up
// backlog.
func (h *Hub) forward(c *client, ch <-chan event.Event) {
	for ev := range ch {
		data, err := json.Marshal(Message{Event: string(ev.Type), Data: ev})
		if err != nil {
			slog.Error("ws: marshal event", "type", ev.Type, "error", err)
			continue
		}
		// Send under the hub lock with a membership check so a concurrent
		// unregister cannot close the channel out from under us.
		h.mu.Lock()
		if _, ok := h.clients[c]; !ok {
			h.mu.Unlock()
			return
		}
		select {
		case c.send <- data:
			h.mu.Unlock()
		default:
			h.mu.Unlock()
			h.unregister(c)
			return
		}
	}
}

// snapshotMessage builds the on-connect state message, filtered to one
// monitor when requested.
func (h *Hub) snapshotMessage(monitorID string) ([]byte, error) {
	snaps := h.eng.Snapshots()
	entries := make([]statusEntry, 0, len(snaps))
	for _, s := range snaps {
		if monitorID != "" && s.Monitor.ID != monitorID {
			continue
		}
		entries = append(entries, statusEntry{
			MonitorID: s.Monitor.ID,
			Status:    string(s.Status),
			Level:     string(s.SLO.Level),
			LastCheck: s.LastCheckAt,
		})
	}
	return json.Marshal(Message{Event: "snapshot", Data: entries})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.unregister(c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
