// Package ws runs the per-connection session loop: register with the
// connection registry, relay client frames, keep the connection alive with
// pings, and deregister on termination.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/metrics"
	"github.com/ngqkhai/script-generator/internal/registry"
)

// Frame is the JSON envelope for server-to-client messages.
type Frame struct {
	Type         string `json:"type"`
	Message      any    `json:"message,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}

// Handler upgrades HTTP requests into registered sessions.
type Handler struct {
	registry     *registry.Registry
	log          logging.ServiceLogger
	metrics      *metrics.Metrics
	pingInterval time.Duration
	// singleSlot closes an existing session when a new one arrives for the
	// same collection key. Policy lives here, not in the registry.
	singleSlot bool
	upgrader   websocket.Upgrader
}

func NewHandler(reg *registry.Registry, log logging.ServiceLogger, m *metrics.Metrics, pingInterval time.Duration, singleSlot bool) *Handler {
	return &Handler{
		registry:     reg,
		log:          log,
		metrics:      m,
		pingInterval: pingInterval,
		singleSlot:   singleSlot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", err, logging.LogFields{"collection_id": collectionID})
		return
	}

	log := h.log.With(logging.LogFields{"collection_id": collectionID})
	log.Info("websocket connected", nil)

	if h.singleSlot && collectionID != "" {
		for _, old := range h.registry.Group(collectionID) {
			log.Info("superseding existing session", nil)
			h.registry.Unsubscribe(old)
			_ = old.Close()
		}
	}

	s := newSession(conn)
	// Confirmation frame goes out before the session can receive broadcasts,
	// so the client always sees it first.
	if err := s.SendJSON(Frame{
		Type:         "connection_established",
		Message:      "connected to script generator",
		CollectionID: collectionID,
	}); err != nil {
		log.Error("failed to send connection confirmation", err, nil)
		_ = s.Close()
		return
	}

	h.registry.Subscribe(s, collectionID)
	h.metrics.SessionOpened()
	defer func() {
		h.registry.Unsubscribe(s)
		_ = s.Close()
		h.metrics.SessionClosed()
		log.Info("websocket disconnected", nil)
	}()

	stopPings := h.startPings(s)
	defer stopPings()

	h.readLoop(s, log)
}

// startPings emits a liveness ping frame every pingInterval until the
// returned stop function runs. A failed ping marks the session undeliverable
// and the read loop ends with it.
func (h *Handler) startPings(s *session) func() {
	ticker := time.NewTicker(h.pingInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.SendJSON(Frame{Type: "ping"}); err != nil {
					_ = s.Close()
					return
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// readLoop relays inbound frames until the transport closes.
func (h *Handler) readLoop(s *session, log logging.ServiceLogger) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", logging.LogFields{"error": err.Error()})
			}
			return
		}

		var decoded any
		if err := jsoncodec.Unmarshal(payload, &decoded); err != nil {
			// Malformed frames get an error frame, not a close.
			if sendErr := s.SendJSON(Frame{Type: "error", Message: "invalid JSON message"}); sendErr != nil {
				return
			}
			continue
		}
		if err := s.SendJSON(Frame{Type: "echo", Message: decoded}); err != nil {
			return
		}
	}
}
