// Package domain defines the core domain models for the agent server.
package domain

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusFinished  SessionStatus = "finished"
)

// Terminal reports whether no further run may occur without a fresh start.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusError, SessionStatusCancelled, SessionStatusFinished:
		return true
	}
	return false
}

// EventType represents the type of a stream event frame.
type EventType string

const (
	EventTypeText       EventType = "text"
	EventTypeToolUse    EventType = "tool_use"
	EventTypeToolResult EventType = "tool_result"
	EventTypeThinking   EventType = "thinking"
	EventTypeError      EventType = "error"
	EventTypeCompleted  EventType = "completed"
)
