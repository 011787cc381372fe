package runner

import (
	"log"
	"sync"
	"time"

	"github.com/agentd-dev/agentd/domain"
)

// ClientConn is the live connection a relay writes to. *websocket.Conn
// satisfies it directly.
type ClientConn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
}

// Relay forwards stream events to an attached client connection. Send
// failures are logged and swallowed: persistence must proceed whether or
// not anyone is watching. A relay with no connection drops everything.
type Relay struct {
	mu           sync.Mutex
	conn         ClientConn
	writeTimeout time.Duration
}

// NewRelay creates a relay for the given connection. conn may be nil.
// writeTimeout bounds each frame write; zero disables the deadline.
func NewRelay(conn ClientConn, writeTimeout time.Duration) *Relay {
	return &Relay{conn: conn, writeTimeout: writeTimeout}
}

// Attached reports whether a live connection is present.
func (r *Relay) Attached() bool {
	return r.conn != nil
}

// Send pushes one typed event frame to the client, if attached.
func (r *Relay) Send(eventType domain.EventType, content any) {
	if r.conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	event := domain.StreamEvent{
		Type:      eventType,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if r.writeTimeout > 0 {
		r.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
	if err := r.conn.WriteJSON(event); err != nil {
		log.Printf("WARN: failed to relay %s event: %v", eventType, err)
	}
}
