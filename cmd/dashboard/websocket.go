// Localhost websocket hub pushing live events to the dashboard UI:
// hydration progress and committed local-store changes.
package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/store"
	"github.com/dadinugroho/robshop-core/internal/syncer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return strings.HasPrefix(r.Host, "localhost")
	},
}

// wsEnvelope wraps every message pushed to UI clients.
type wsEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

const (
	eventSyncStarted       = "sync.started"
	eventSyncTableStarted  = "sync.table_started"
	eventSyncTableComplete = "sync.table_completed"
	eventSyncProgress      = "sync.progress"
	eventSyncCompleted     = "sync.completed"
	eventStoreChanged      = "store.changed"
)

type wsClient struct {
	conn *websocket.Conn
	send chan wsEnvelope
}

// wsHub maintains connected UI clients and broadcasts envelopes.
type wsHub struct {
	mu        sync.RWMutex
	clients   map[*wsClient]bool
	broadcast chan wsEnvelope
}

func newWSHub() *wsHub {
	return &wsHub{
		clients:   make(map[*wsClient]bool),
		broadcast: make(chan wsEnvelope, 256),
	}
}

func (h *wsHub) run() {
	for env := range h.broadcast {
		h.mu.RLock()
		for c := range h.clients {
			select {
			case c.send <- env:
			default:
				// Lagging UI client; drop the frame.
			}
		}
		h.mu.RUnlock()
	}
}

func (h *wsHub) send(typ string, data map[string]interface{}) {
	env := wsEnvelope{Type: typ, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- env:
	default:
	}
}

// onSyncEvent adapts engine progress events to UI frames.
func (h *wsHub) onSyncEvent(ev syncer.Event) {
	data := map[string]interface{}{}
	var typ string
	switch ev.Type {
	case syncer.EventStart:
		typ = eventSyncStarted
	case syncer.EventTableStart:
		typ = eventSyncTableStarted
		data["table"] = ev.Table
	case syncer.EventTableComplete:
		typ = eventSyncTableComplete
		data["table"] = ev.Table
		data["rows"] = ev.Rows
		if ev.Error != "" {
			data["error"] = ev.Error
		}
	case syncer.EventProgress:
		typ = eventSyncProgress
		data["percent"] = ev.Percent
	case syncer.EventComplete:
		typ = eventSyncCompleted
	default:
		return
	}
	h.send(typ, data)
}

// onStoreChange pushes committed local writes so UI read hooks know to
// re-query.
func (h *wsHub) onStoreChange(n store.ChangeNotice) {
	h.send(eventStoreChanged, map[string]interface{}{
		"table": n.Table,
		"id":    n.ID,
	})
}

func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	c := &wsClient{conn: conn, send: make(chan wsEnvelope, 64)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *wsHub) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is detecting disconnect.
func (h *wsHub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
