// Package dashboard serves the relay's live event feed: a ring of recent
// metadata-only events, replayed to and then streamed over websockets.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nudge/internal/constants"
	"nudge/internal/logger"
	"nudge/internal/security"
)

const (
	wsBufferSize = 1024
	writeWait    = 5 * time.Second
	clientQueue  = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return security.ValidateOrigin(r, nil)
	},
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
}

type client struct {
	send chan []byte
}

type Dashboard struct {
	mu        sync.Mutex
	events    []security.AuditEvent
	maxEvents int
	clients   map[*client]struct{}
	closed    bool
	limiter   *security.ConnectionLimiter
	log       zerolog.Logger
}

func New() *Dashboard {
	return &Dashboard{
		maxEvents: constants.MaxRecentEvents,
		clients:   make(map[*client]struct{}),
		limiter:   security.NewConnectionLimiter(constants.MaxEventClients),
		log:       logger.Component("dashboard"),
	}
}

// Routes mounts the event endpoints on mux.
func (d *Dashboard) Routes(mux *http.ServeMux) {
	mux.HandleFunc(constants.EndpointEvents, d.handleWebSocket)
	mux.HandleFunc(constants.EndpointEventLog, d.handleEvents)
}

// Publish records ev and fans it out to connected clients. Slow clients
// lose events rather than stall the relay.
func (d *Dashboard) Publish(ev security.AuditEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	d.events = append(d.events, ev)
	if len(d.events) > d.maxEvents {
		d.events = d.events[len(d.events)-d.maxEvents:]
	}

	for c := range d.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (d *Dashboard) Recent() []security.AuditEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	events := make([]security.AuditEvent, len(d.events))
	copy(events, d.events)
	return events
}

func (d *Dashboard) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Close disconnects every feed client. Later events are dropped.
func (d *Dashboard) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for c := range d.clients {
		close(c.send)
		delete(d.clients, c)
	}
}

func (d *Dashboard) subscribe() (*client, []security.AuditEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, false
	}
	c := &client{send: make(chan []byte, clientQueue)}
	d.clients[c] = struct{}{}
	backlog := make([]security.AuditEvent, len(d.events))
	copy(backlog, d.events)
	return c, backlog, true
}

func (d *Dashboard) unsubscribe(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[c]; ok {
		delete(d.clients, c)
		close(c.send)
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := security.GetClientIP(r)
	if !d.limiter.TryConnect(clientIP) {
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}
	defer d.limiter.Disconnect(clientIP)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Debug().Err(err).Str("ip", clientIP).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c, backlog, ok := d.subscribe()
	if !ok {
		return
	}
	defer d.unsubscribe(c)

	for _, ev := range backlog {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (d *Dashboard) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.Recent())
}
