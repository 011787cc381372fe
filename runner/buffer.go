package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentd-dev/agentd/domain"
	"github.com/agentd-dev/agentd/store"
)

// Buffer accumulates message records in memory and writes them to the store
// in batches. It is owned by one run; a concurrent Cancel call may drain it,
// so all access goes through the mutex.
type Buffer struct {
	sessionID string
	store     store.Store
	batchSize int

	mu      sync.Mutex
	pending []domain.Message
}

// NewBuffer creates an empty buffer for one session's run.
func NewBuffer(sessionID string, st store.Store, batchSize int) *Buffer {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Buffer{
		sessionID: sessionID,
		store:     st,
		batchSize: batchSize,
	}
}

// Append adds one serialized event to the tail of the buffer. Once the
// buffer reaches the batch size it is flushed to the store.
func (b *Buffer) Append(ctx context.Context, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: b.sessionID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})

	if len(b.pending) >= b.batchSize {
		return b.flushLocked(ctx)
	}
	return nil
}

// Flush writes all buffered records to the store in one bulk insert and
// clears the buffer. Flushing an empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Len returns the number of unflushed records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Buffer) flushLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.store.BulkInsertMessages(ctx, b.sessionID, b.pending); err != nil {
		// Keep the records; a later flush retries the whole batch.
		return err
	}
	b.pending = b.pending[:0]
	return nil
}
