package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// hub fans events out to connected websocket clients and keeps the
// connections healthy with periodic pings.
type hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	stop chan struct{}
	done chan struct{}
}

type client struct {
	id        string
	conn      *websocket.Conn
	connected time.Time
	closed    atomic.Bool
	closeOnce sync.Once
	// gorilla connections do not tolerate concurrent data writes.
	writeMu sync.Mutex
}

func newHub(logger *slog.Logger) *hub {
	h := &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]*client),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.maintain()
	return h
}

// add upgrades the request and registers the connection. On upgrade
// failure the response has already been written.
func (h *hub) add(w http.ResponseWriter, r *http.Request) (*client, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &client{
		id:        uuid.NewString(),
		conn:      conn,
		connected: time.Now(),
	}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c, nil
}

func (h *hub) remove(c *client) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		h.mu.Lock()
		delete(h.clients, c.conn)
		h.mu.Unlock()
		_ = c.conn.Close()
	})
}

func (h *hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast sends v as JSON to every connected client, dropping clients
// whose writes fail.
func (h *hub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("could not encode event", "error", err)
		return
	}

	for _, c := range h.snapshot() {
		if c.closed.Load() {
			continue
		}
		if err := h.send(c, data); err != nil {
			h.remove(c)
		}
	}
}

func (h *hub) send(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop drains client frames so pongs and close frames are processed.
// It returns, and removes the client, when the connection dies.
func (h *hub) readLoop(c *client) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// maintain pings clients until the hub closes. Control frames are safe
// to write concurrently with data frames.
func (h *hub) maintain() {
	defer close(h.done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			for _, c := range h.snapshot() {
				if c.closed.Load() {
					continue
				}
				deadline := time.Now().Add(writeTimeout)
				if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					h.remove(c)
				}
			}
		}
	}
}

// close stops maintenance and drops every client.
func (h *hub) close() error {
	close(h.stop)
	<-h.done

	for _, c := range h.snapshot() {
		h.remove(c)
	}
	return nil
}
