package api

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/agentd-dev/agentd/domain"
)

// HandleWebSocket upgrades the connection, reads the initiating request and
// drives one agent run against the session. A client disconnect while the
// run is in flight cancels it.
// GET /sessions/:session_id/ws
func (h *Handler) HandleWebSocket(c echo.Context) error {
	sessionID := c.Param("session_id")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade websocket: %v", err)
		return err
	}
	defer ws.Close()

	ws.SetReadLimit(h.cfg.MaxMessageSize)

	ctx := c.Request().Context()
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		h.sendWSError(ws, "failed to load session")
		return nil
	}
	if session == nil {
		h.sendWSError(ws, "Session not found")
		return nil
	}

	var req domain.StartRequest
	if err := ws.ReadJSON(&req); err != nil {
		return nil
	}
	if req.Message == "" {
		h.sendWSError(ws, "No message provided")
		return nil
	}

	if h.runner.IsActive(sessionID) {
		h.sendWSError(ws, "Session already has an active run")
		return nil
	}

	handle := h.runner.Start(sessionID, req.Message, h.store, ws, req.APIKey)

	// Watch for the client going away while the run is in flight.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-handle.Done():
	case <-readerDone:
		// Cancel blocks until the run has exited.
		h.runner.Cancel(sessionID)
	}
	return nil
}

// sendWSError writes a single error frame before the run starts. The run's
// own relay handles everything after Start.
func (h *Handler) sendWSError(ws *websocket.Conn, message string) {
	event := domain.StreamEvent{
		Type:      domain.EventTypeError,
		Content:   map[string]string{"error": message},
		Timestamp: time.Now().UTC(),
	}
	if h.cfg.WriteTimeout > 0 {
		ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
	if err := ws.WriteJSON(event); err != nil {
		log.Printf("WARN: failed to write error frame: %v", err)
	}
}
