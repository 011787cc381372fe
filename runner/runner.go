// Package runner executes one long-lived, cancellable agent run per session,
// streaming output to a live connection and persisting it in batched writes.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/agentd-dev/agentd/config"
	"github.com/agentd-dev/agentd/domain"
	"github.com/agentd-dev/agentd/engine"
	"github.com/agentd-dev/agentd/imageutil"
	"github.com/agentd-dev/agentd/store"
)

// Runner starts, cancels and tracks agent runs. At most one run is active
// per session id at any time; callers check IsActive before Start.
type Runner struct {
	cfg      *config.Config
	engine   engine.Engine
	registry *Registry
}

// New creates a runner backed by the given engine.
func New(cfg *config.Config, eng engine.Engine) *Runner {
	return &Runner{
		cfg:      cfg,
		engine:   eng,
		registry: NewRegistry(),
	}
}

// Handle tracks one spawned run.
type Handle struct {
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Done returns a channel closed when the run has fully exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the run's outcome once Done is closed: nil for normal
// completion, context.Canceled when the run was cancelled, and the engine
// failure otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// IsActive reports whether the session currently has a registered run.
func (r *Runner) IsActive(sessionID string) bool {
	return r.registry.IsActive(sessionID)
}

// Start spawns a run for the session as an independent goroutine and
// registers it, returning immediately. conn may be nil for a run without a
// live viewer; apiKey overrides the configured credential when non-empty.
func (r *Runner) Start(sessionID, message string, st store.Store, conn ClientConn, apiKey string) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	buf := NewBuffer(sessionID, st, r.cfg.MessageBatchSize)
	h := &Handle{done: make(chan struct{})}
	r.registry.register(sessionID, &entry{cancel: cancel, buffer: buf, store: st, done: h.done})

	go func() {
		defer cancel()
		err := r.run(ctx, sessionID, message, st, buf, NewRelay(conn, r.cfg.WriteTimeout), apiKey)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h
}

// Cancel signals the session's run to stop, drains whatever is buffered
// right now, then blocks until the run goroutine has fully exited. The
// run's own cancellation branch performs the authoritative final flush and
// status transition, so once Cancel returns a caller may write a successor
// status without the unwinding run overwriting it. Cancelling a session
// with no active run is a no-op.
func (r *Runner) Cancel(sessionID string) {
	e := r.registry.lookup(sessionID)
	if e == nil {
		return
	}
	e.cancel()
	if err := e.buffer.Flush(context.Background()); err != nil {
		log.Printf("ERROR: failed to drain buffer for session %s: %v", sessionID, err)
	}
	<-e.done
}

// run drives one complete execution and resolves the session's terminal
// status from the outcome.
func (r *Runner) run(ctx context.Context, sessionID, message string, st store.Store, buf *Buffer, relay *Relay, apiKey string) error {
	defer r.registry.unregister(sessionID)

	session, err := st.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to load session %s: %v", sessionID, err)
		return err
	}
	if session == nil {
		// Nothing to run against.
		return nil
	}

	// The running status commits synchronously so other components observe
	// the run before the first event arrives.
	if err := st.UpdateSessionStatus(ctx, sessionID, domain.SessionStatusRunning); err != nil {
		log.Printf("ERROR: failed to mark session %s running: %v", sessionID, err)
		return err
	}

	userRecord, _ := json.Marshal(map[string]any{"type": "text", "text": message, "role": "user"})
	if err := buf.Append(ctx, string(userRecord)); err != nil {
		log.Printf("ERROR: failed to buffer user message for session %s: %v", sessionID, err)
	}

	key := apiKey
	if key == "" {
		key = r.cfg.AnthropicAPIKey
	}

	hooks := &runHooks{relay: relay, buffer: buf, session: session}
	runErr := r.engine.Run(ctx, message, hooks, engine.Config{
		APIKey:           key,
		Model:            r.cfg.Model,
		MaxTokens:        r.cfg.MaxTokens,
		RecentImageLimit: r.cfg.RecentImageLimit,
	})

	// Terminal bookkeeping must survive the cancelled run context.
	final := context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
		r.finish(final, st, buf, sessionID, domain.SessionStatusCompleted)
		relay.Send(domain.EventTypeCompleted, map[string]string{"message": "Task completed"})
		return nil

	case errors.Is(runErr, context.Canceled):
		r.finish(final, st, buf, sessionID, domain.SessionStatusCancelled)
		return runErr

	default:
		log.Printf("ERROR: run failed for session %s: %v", sessionID, runErr)
		r.finish(final, st, buf, sessionID, domain.SessionStatusError)
		relay.Send(domain.EventTypeError, map[string]string{"error": runErr.Error()})
		return runErr
	}
}

// finish flushes the remaining buffer and persists the terminal status. It
// runs on every exit path.
func (r *Runner) finish(ctx context.Context, st store.Store, buf *Buffer, sessionID string, status domain.SessionStatus) {
	if err := buf.Flush(ctx); err != nil {
		log.Printf("ERROR: failed to flush messages for session %s: %v", sessionID, err)
	}
	if err := st.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		log.Printf("ERROR: failed to update session %s status to %s: %v", sessionID, status, err)
	}
}

// toolResultRecord is the persisted shape of one tool invocation result.
type toolResultRecord struct {
	Type       string `json:"type"`
	ToolID     string `json:"tool_id"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	Screenshot string `json:"screenshot,omitempty"`
}

// runHooks wires engine events into the relay (immediate) and the buffer
// (batched), in that order.
type runHooks struct {
	relay   *Relay
	buffer  *Buffer
	session *domain.Session
}

func (h *runHooks) OnContent(ctx context.Context, block engine.ContentBlock) error {
	eventType := domain.EventType(block.Type)
	if block.Type == "" {
		eventType = domain.EventTypeText
	}
	h.relay.Send(eventType, block)

	payload, err := json.Marshal(block)
	if err != nil {
		log.Printf("WARN: failed to serialize content block: %v", err)
		return nil
	}
	return h.buffer.Append(ctx, string(payload))
}

func (h *runHooks) OnToolResult(ctx context.Context, toolID string, result engine.ToolResult) error {
	h.relay.Send(domain.EventTypeToolResult, map[string]any{
		"tool_id": toolID,
		"output":  result.Output,
		"error":   result.Error,
	})

	record := toolResultRecord{
		Type:   "tool_result",
		ToolID: toolID,
		Output: result.Output,
		Error:  result.Error,
	}
	if h.session.StoreScreenshots && result.Base64Image != "" {
		scale := h.session.ScreenshotScale
		if scale < 1 {
			scale = 2
		}
		quality := h.session.ScreenshotQuality
		if quality < 1 {
			quality = 70
		}
		record.Screenshot = imageutil.ResizeScreenshot(result.Base64Image, scale, quality)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		log.Printf("WARN: failed to serialize tool result: %v", err)
		return nil
	}
	return h.buffer.Append(ctx, string(payload))
}

// OnAPIResponse is a diagnostics hook; nothing consumes it yet.
func (h *runHooks) OnAPIResponse(request, response any, err error) {}
