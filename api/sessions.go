package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agentd-dev/agentd/domain"
)

// CreateSession creates a new agent session with optional screenshot policy.
// POST /sessions
func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.SessionCreateRequest
	// The body is optional; an empty request gets the defaults.
	if err := c.Bind(&req); err != nil {
		req = domain.SessionCreateRequest{}
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	session := &domain.Session{
		SessionID:         uuid.New().String(),
		Status:            domain.SessionStatusActive,
		CreatedAt:         time.Now().UTC(),
		StoreScreenshots:  req.StoreScreenshots,
		ScreenshotScale:   req.ScreenshotScale,
		ScreenshotQuality: req.ScreenshotQuality,
	}
	if err := h.store.CreateSession(ctx, session); err != nil {
		log.Printf("ERROR: failed to create session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	return c.JSON(http.StatusOK, session)
}

// ListSessions returns all sessions, newest first.
// GET /sessions
func (h *Handler) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()

	sessions, err := h.store.ListSessions(ctx)
	if err != nil {
		log.Printf("ERROR: failed to list sessions: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}

	return c.JSON(http.StatusOK, sessions)
}

// GetSession returns a session by ID.
// GET /sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	return c.JSON(http.StatusOK, session)
}

// GetSessionMessages returns all messages for a session in insertion order.
// GET /sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	messages, err := h.store.GetMessages(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get messages"})
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, messages)
}

// FinishSession marks a session as finished, cancelling any active run first.
// PATCH /sessions/:session_id/finish
func (h *Handler) FinishSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	// Cancel returns only after the run has exited, so the finished status
	// below is the final word.
	h.runner.Cancel(sessionID)

	if err := h.store.UpdateSessionStatus(ctx, sessionID, domain.SessionStatusFinished); err != nil {
		log.Printf("ERROR: failed to finish session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to finish session"})
	}
	session.Status = domain.SessionStatusFinished

	return c.JSON(http.StatusOK, session)
}

// DeleteSession deletes a session and all its messages, cancelling any
// active run first.
// DELETE /sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	h.runner.Cancel(sessionID)

	if err := h.store.DeleteMessagesForSession(ctx, sessionID); err != nil {
		log.Printf("ERROR: failed to delete messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete session"})
	}
	if err := h.store.DeleteSession(ctx, sessionID); err != nil {
		log.Printf("ERROR: failed to delete session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete session"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Session deleted"})
}
