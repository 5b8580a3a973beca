/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package ws exposes transaction completion events over WebSocket.

Operational tooling connects to /events and receives one JSON object per
resolved transaction attempt. Slow clients are disconnected rather than
allowed to stall the broadcast path.
*/
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flycoord/internal/config"
	"flycoord/internal/logging"
	"flycoord/internal/marker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is the JSON payload broadcast for each resolved attempt.
type Event struct {
	Type            string    `json:"type"` // "completed" or "timed-out"
	TransactionalID string    `json:"transactional_id"`
	AttemptID       string    `json:"attempt_id"`
	Result          string    `json:"result"`
	LogPartition    int32     `json:"log_partition"`
	CompletedAt     time.Time `json:"completed_at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Gateway broadcasts completion events to connected WebSocket clients.
type Gateway struct {
	cfg      *config.EventsConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewGateway creates a gateway serving the configured address.
func NewGateway(cfg *config.EventsConfig) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		logger:  logging.NewLogger("ws"),
		clients: make(map[*client]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start launches the WebSocket server.
func (g *Gateway) Start() error {
	if !g.cfg.Enabled {
		g.logger.Info("Event gateway disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", g.handleEvents)

	g.server = &http.Server{
		Addr:    g.cfg.Addr,
		Handler: mux,
	}

	go func() {
		g.logger.Info("Starting event gateway", "addr", g.cfg.Addr)
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("Event gateway error", "error", err)
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the server down.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	for c := range g.clients {
		close(c.send)
		delete(g.clients, c)
	}
	g.mu.Unlock()

	if g.server == nil {
		return nil
	}
	g.logger.Info("Stopping event gateway")
	return g.server.Close()
}

// PublishCompletion converts a resolved attempt into a broadcast event.
// Wire it up with ChannelManager.Subscribe.
func (g *Gateway) PublishCompletion(ev marker.CompletionEvent) {
	eventType := "completed"
	if ev.Outcome == marker.OutcomeTimedOut {
		eventType = "timed-out"
	}
	g.broadcast(Event{
		Type:            eventType,
		TransactionalID: ev.TransactionalID,
		AttemptID:       ev.AttemptID,
		Result:          string(ev.Result),
		LogPartition:    ev.LogPartition,
		CompletedAt:     ev.CompletedAt,
	})
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Gateway) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("Failed to encode event", "error", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it.
			close(c.send)
			delete(g.clients, c)
		}
	}
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	g.logger.Debug("Client connected", "remote", r.RemoteAddr)

	go g.writePump(c)
	go g.readPump(c)
}

// writePump forwards broadcast events to one client and keeps the
// connection alive with pings.
func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages and detects dead connections.
func (g *Gateway) readPump(c *client) {
	defer func() {
		g.mu.Lock()
		if _, ok := g.clients[c]; ok {
			close(c.send)
			delete(g.clients, c)
		}
		g.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
