// Package api exposes the HTTP and WebSocket endpoints of the agent server.
package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/agentd-dev/agentd/config"
	"github.com/agentd-dev/agentd/runner"
	"github.com/agentd-dev/agentd/store"
)

// Handler holds dependencies for the API handlers.
type Handler struct {
	store    store.Store
	runner   *runner.Runner
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler.
func NewHandler(st store.Store, run *runner.Runner, cfg *config.Config) *Handler {
	return &Handler{
		store:  st,
		runner: run,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/sessions")
	g.POST("", h.CreateSession)
	g.GET("", h.ListSessions)
	g.GET("/:session_id", h.GetSession)
	g.GET("/:session_id/messages", h.GetSessionMessages)
	g.PATCH("/:session_id/finish", h.FinishSession)
	g.DELETE("/:session_id", h.DeleteSession)
	g.GET("/:session_id/ws", h.HandleWebSocket)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
