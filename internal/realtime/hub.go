// Package realtime pushes alerts to users over WebSocket.
//
// A user may hold several connections (tabs, devices); every one of them
// receives the user's events. Events for a user with no connection are not
// queued: the caller learns that nobody was listening and the stored alert
// remains the record.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000
	// MaxClientsPerUser caps connections held by a single user.
	MaxClientsPerUser = 16

	sendBuffer   = 64
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// EventType for real-time events
type EventType string

const (
	EventConnected EventType = "connected"
	EventAlert     EventType = "alert"
)

// Event is one message pushed to a client.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Client is one WebSocket connection owned by a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub tracks connections by user.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	count      int
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	onPresence func(userID string, online bool)

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// OnPresence sets fn to be called when a user opens their first connection
// (online) or closes their last one. fn is called with the hub lock held, so
// it must not block or call back into the hub. Set it before Run.
func (h *Hub) OnPresence(fn func(userID string, online bool)) {
	h.onPresence = fn
}

func (h *Hub) notifyPresence(userID string, online bool) {
	if h.onPresence != nil {
		h.onPresence(userID, online)
	}
}

// Run processes registrations until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send) // writePump sends CloseMessage on closed channel
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			h.count = 0
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.count++
			n := h.count
			if !ok {
				h.notifyPresence(c.userID, true)
			}
			h.mu.Unlock()

			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "user_id", c.userID, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			n := h.count
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client disconnected", "user_id", c.userID, "total", n)
		}
	}
}

// removeLocked drops c and closes its send channel. Caller must hold h.mu.
func (h *Hub) removeLocked(c *Client) bool {
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		h.notifyPresence(c.userID, false)
	}
	close(c.send)
	h.count--
	return true
}

// SendToUser queues ev on every connection the user holds and returns how
// many accepted it. Connections whose buffer is full are dropped.
func (h *Hub) SendToUser(userID string, ev *Event) (int, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}
	h.totalEvents.Add(1)

	sent := 0
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			if h.removeLocked(c) {
				metrics.WebSocketDropsTotal.Inc()
			}
		}
		n := h.count
		h.mu.Unlock()
		metrics.ActiveWebSocketClients.Set(float64(n))
		h.logger.Warn("dropped slow websocket clients", "user_id", userID, "count", len(slow))
	}
	return sent, nil
}

// ClientCount returns how many connections userID holds.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Users returns the users holding at least one connection.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.clients))
	for u := range h.clients {
		users = append(users, u)
	}
	return users
}

// Running reports whether Run is still processing.
func (h *Hub) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": h.count,
		"connectedUsers":   len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request to a WebSocket owned by userID.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	total, mine := h.count, len(h.clients[userID])
	h.mu.RUnlock()
	if total >= h.maxClients || mine >= MaxClientsPerUser {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}

	// Queued before registration, while nothing else can close c.send.
	if hello, err := json.Marshal(&Event{
		Type:      EventConnected,
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"userId": userID},
	}); err == nil {
		c.send <- hello
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump keeps the read deadline fresh. Clients have nothing to say;
// inbound messages are discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "user_id", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
