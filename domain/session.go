package domain

import (
	"fmt"
	"time"
)

// Session represents one agent conversation session.
type Session struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`

	// Screenshot storage policy, fixed at creation.
	StoreScreenshots  bool `json:"store_screenshots"`
	ScreenshotScale   int  `json:"screenshot_scale"`   // 1=full, 2=half, 4=quarter
	ScreenshotQuality int  `json:"screenshot_quality"` // JPEG quality 1-100
}

// Message is one immutable record emitted during a run (or the initiating
// user request). Content holds the serialized event payload.
type Message struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamEvent is one typed frame pushed over a live connection.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCreateRequest carries the optional screenshot policy for a new session.
type SessionCreateRequest struct {
	StoreScreenshots  bool `json:"store_screenshots"`
	ScreenshotScale   int  `json:"screenshot_scale"`
	ScreenshotQuality int  `json:"screenshot_quality"`
}

// Validate checks the screenshot policy bounds and fills defaults.
func (r *SessionCreateRequest) Validate() error {
	if r.ScreenshotScale == 0 {
		r.ScreenshotScale = 2
	}
	if r.ScreenshotQuality == 0 {
		r.ScreenshotQuality = 70
	}
	if r.ScreenshotScale < 1 || r.ScreenshotScale > 8 {
		return fmt.Errorf("screenshot_scale must be between 1 and 8, got %d", r.ScreenshotScale)
	}
	if r.ScreenshotQuality < 10 || r.ScreenshotQuality > 100 {
		return fmt.Errorf("screenshot_quality must be between 10 and 100, got %d", r.ScreenshotQuality)
	}
	return nil
}

// StartRequest is the initiating payload read from a live connection.
type StartRequest struct {
	Message string `json:"message"`
	APIKey  string `json:"api_key,omitempty"`
}
