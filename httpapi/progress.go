package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// ProgressEvent is one phase transition broadcast to connected viewers.
// The out-of-scope trail viewer UI (spec.md §1) is the intended consumer;
// this package only owns the publish side.
type ProgressEvent struct {
	RequestID string               `json:"request_id"`
	Phase     domain.GenerationPhase `json:"phase"`
}

// ProgressHub fans out ProgressEvents to every connected websocket client.
// One Hub serves one Orchestrator process; it holds no per-request state
// beyond the live connection set.
type ProgressHub struct {
	upgrader websocket.Upgrader
	logger   platform.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewProgressHub constructs an empty Hub.
func NewProgressHub(logger platform.Logger) *ProgressHub {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	return &ProgressHub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it for broadcasts.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("progress hub: websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.drainClose(conn)
}

// drainClose blocks on reads (which the viewer never sends, by contract)
// purely to detect the peer closing the connection and deregister it.
func (h *ProgressHub) drainClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
	}
}

// Publish broadcasts event to every connected client, dropping any whose
// write fails. Writes happen synchronously while the hub's lock is held
// and carry no deadline, so a client that stops reading delays the caller
// until its write completes or fails.
func (h *ProgressHub) Publish(event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}
