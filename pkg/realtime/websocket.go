package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// (direct connections from non-browser clients).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// client wraps one subscriber connection. gorilla/websocket allows a single
// concurrent writer per connection, and both the hub's broadcast loop and
// the per-connection ping sender write, so every write goes through mu.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.conn.WriteMessage(messageType, payload)
}

// Hub manages WebSocket subscribers for metrics:diff pushes. There is no
// acknowledgment or backpressure: a slow or disconnected subscriber simply
// misses messages.
type Hub struct {
	// Registered clients
	clients map[*client]bool

	// Register requests from clients
	register chan *client

	// Unregister requests from clients
	unregister chan *client

	// Broadcast channel for diff messages
	broadcast chan []byte

	mu sync.RWMutex
}

// NewHub creates a WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Close all client connections on shutdown
			h.mu.Lock()
			for cl := range h.clients {
				cl.conn.Close()
			}
			h.mu.Unlock()
			return
		case cl := <-h.register:
			h.mu.Lock()
			h.clients[cl] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("total", count).Msg("WebSocket subscriber connected")
		case cl := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[cl]; ok {
				delete(h.clients, cl)
				cl.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("total", count).Msg("WebSocket subscriber disconnected")
		case message := <-h.broadcast:
			h.mu.RLock()
			// Collect failed connections to unregister after releasing lock
			var failed []*client
			for cl := range h.clients {
				if err := cl.write(websocket.TextMessage, message); err != nil {
					log.Warn().Err(err).Msg("WebSocket write error")
					failed = append(failed, cl)
				}
			}
			h.mu.RUnlock()

			// Unregister failed connections without holding the lock
			for _, cl := range failed {
				h.unregister <- cl
			}
		}
	}
}

// Broadcast sends a message to all connected subscribers.
func (h *Hub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		// Channel full, drop message to prevent blocking
		log.Warn().Msg("broadcast channel full, dropping message")
		return nil
	}
}

// HasClients returns true if any subscriber is connected.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// ServeWS handles WebSocket upgrade requests and keeps the connection alive
// until the subscriber goes away.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		cl := &client{conn: conn}
		hub.register <- cl

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Ping sender keeps the connection alive.
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := cl.write(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel() // Signal ping goroutine to stop
			hub.unregister <- cl
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		// Read loop handles control frames and detects connection close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn().Err(err).Msg("WebSocket error")
				}
				break
			}
		}
	}
}
