// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/agentd-dev/agentd/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error
	DeleteSession(ctx context.Context, sessionID string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	BulkInsertMessages(ctx context.Context, sessionID string, messages []domain.Message) error
	DeleteMessagesForSession(ctx context.Context, sessionID string) error

	// Lifecycle
	Close() error
}
