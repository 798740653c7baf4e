package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// broadcastInterval controls spectator frame rate; snapshots are
	// committed every tick but streamed at a coarser cadence
	broadcastInterval = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Use the centralized origin checker
		if IsAllowedOrigin(origin) {
			return true
		}

		// Log rejected origin for security monitoring
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// wsClient tracks a spectator connection with its source IP and the
// match it watches
type wsClient struct {
	conn    *websocket.Conn
	ip      string
	matchID string
}

// WebSocketHub fans match snapshots out to spectators with DoS protection.
// Spectators are read-only; inputs never travel over this channel.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	// Connection limiting per IP
	wsLimiter *WebSocketRateLimiter

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub creates a new hub with connection limiting
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		stopChan:   make(chan struct{}),
	}
}

// Run starts the hub's registration loop
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stopChan:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Spectator connected from %s watching %s (%d total)", client.ip, client.matchID, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				// Release the connection slot for this IP
				h.wsLimiter.Release(client.ip)
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Spectator disconnected (%d remaining)", count)
			UpdateWSConnections(count)
		}
	}
}

// Stop shuts the hub down and closes all spectator connections
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		h.mu.Lock()
		for conn, client := range h.clients {
			h.wsLimiter.Release(client.ip)
			delete(h.clients, conn)
			conn.Close()
		}
		h.mu.Unlock()
		UpdateWSConnections(0)
	})
}

// BroadcastMatch sends a frame to every spectator of the given match
func (h *WebSocketHub) BroadcastMatch(matchID, event string, data interface{}) {
	msg := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	jsonBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var stale []*websocket.Conn

	h.mu.RLock()
	for conn, client := range h.clients {
		if client.matchID != matchID {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
			stale = append(stale, conn)
			continue
		}
		IncrementWSMessages()
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		select {
		case h.unregister <- conn:
		case <-h.stopChan:
			return
		}
	}
}

// ClientCount returns the number of connected spectators
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// watchedMatches returns the set of match IDs with at least one spectator
func (h *WebSocketHub) watchedMatches() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, client := range h.clients {
		if !seen[client.matchID] {
			seen[client.matchID] = true
			ids = append(ids, client.matchID)
		}
	}
	return ids
}

// StartBroadcastLoop streams committed snapshots to spectators. Only
// frames whose tick advanced since the last send go out, so paused or
// finished matches stop generating traffic.
func (h *WebSocketHub) StartBroadcastLoop(mgr MatchManager) {
	ticker := time.NewTicker(broadcastInterval)
	lastTick := make(map[string]uint64)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stopChan:
				return
			case <-ticker.C:
			}

			watched := h.watchedMatches()
			if len(watched) == 0 {
				continue
			}

			// Drop entries for matches nobody watches anymore
			active := make(map[string]bool, len(watched))
			for _, id := range watched {
				active[id] = true
			}
			for id := range lastTick {
				if !active[id] {
					delete(lastTick, id)
				}
			}

			for _, matchID := range watched {
				snap, err := mgr.Snapshot(matchID)
				if err != nil {
					continue
				}
				if snap.State.Tick == lastTick[matchID] {
					continue
				}
				lastTick[matchID] = snap.State.Tick

				h.BroadcastMatch(matchID, "match:state", map[string]interface{}{
					"tick":   snap.State.Tick,
					"phase":  snap.State.Phase.String(),
					"score":  snap.State.Score,
					"actors": snap.State.Actors,
					"ball":   snap.State.Ball,
					"hash":   snap.Hash,
				})
			}
		}
	}()
}

// HandleWebSocket upgrades a spectator connection with DoS protection
func (h *WebSocketHub) HandleWebSocket(matchID string, w http.ResponseWriter, r *http.Request) {
	// Get client IP for rate limiting
	ip := GetClientIP(r)

	// Check total connection limit
	h.mu.RLock()
	totalConnections := len(h.clients)
	h.mu.RUnlock()

	if totalConnections >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", totalConnections)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// Check per-IP connection limit
	if !h.wsLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.wsLimiter.Release(ip) // Release the slot we reserved
		return
	}

	// Register the connection. A stopped hub no longer drains the
	// channel, so a late spectator is turned away here instead of
	// blocking forever.
	client := &wsClient{conn: conn, ip: ip, matchID: matchID}
	select {
	case h.register <- client:
	case <-h.stopChan:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	// Drain incoming frames; spectators have no commands, but the read
	// loop is what notices a closed connection
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stopChan:
				// Stop() closes and releases every registered client.
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
