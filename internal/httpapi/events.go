package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/middleware"
	"github.com/toseekandfind/multi-agent-sandbox/internal/webhooks"
)

// Event is one lifecycle notification fanned out to a tenant's
// connected WebSocket subscribers, the same shape webhooks.Payload
// uses so a caller integrating with both sees a consistent envelope.
type Event struct {
	Type      webhooks.EventType `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Data      map[string]any     `json:"data"`
}

// Hub fans events out to per-tenant WebSocket subscribers. It has no
// history buffer: a subscriber only sees events emitted while it is
// connected, matching a live tail rather than a replay log (the trail
// ledger is where a caller goes for history).
type Hub struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{} // tenantID -> set of subscriber channels
}

// NewHub builds an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, subs: make(map[string]map[chan Event]struct{})}
}

// Broadcast matches dispatch.Notifier's and conductor.Notifier's
// callback shape, so it can be composed with webhooks.Manager.Emit at
// the single point the process wires notification fan-out.
func (h *Hub) Broadcast(tenantID string, event webhooks.EventType, data map[string]any) {
	evt := Event{Type: event, Timestamp: time.Now().Unix(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[tenantID] {
		select {
		case ch <- evt:
		default:
			// A slow subscriber drops events rather than blocking the
			// terminal-transition call path that produced this one.
		}
	}
}

func (h *Hub) subscribe(tenantID string) chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[chan Event]struct{})
	}
	h.subs[tenantID][ch] = struct{}{}
	return ch
}

func (h *Hub) unsubscribe(tenantID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[tenantID], ch)
	if len(h.subs[tenantID]) == 0 {
		delete(h.subs, tenantID)
	}
	close(ch)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin is not meaningful for a bearer-token-authenticated
	// API consumed by CLIs and services rather than browser pages.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHandlers implements the "Stream events" capability of spec.md
// §6: a per-tenant live WebSocket feed of job and run lifecycle
// transitions.
type EventHandlers struct {
	hub *Hub
	log *slog.Logger
}

// NewEventHandlers wires the hub events are broadcast onto.
func NewEventHandlers(hub *Hub, log *slog.Logger) *EventHandlers {
	return &EventHandlers{hub: hub, log: log}
}

const eventWriteWait = 10 * time.Second
const eventPingInterval = 30 * time.Second

// Stream handles GET /v1/events. The caller authenticates the same
// way as every other route (Authenticate runs ahead of this handler
// in the router's middleware chain); the upgrade itself carries no
// separate credential.
func (h *EventHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		http.Error(w, "missing tenant credential", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("events: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := h.hub.subscribe(id.TenantID)
	defer h.hub.unsubscribe(id.TenantID, ch)

	// A reader goroutine drains and discards client frames purely to
	// notice a close; this feed is server-to-client only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			body, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
