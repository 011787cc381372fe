package runner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/config"
	"github.com/agentd-dev/agentd/domain"
	"github.com/agentd-dev/agentd/engine"
)

// fakeEngine runs a caller-supplied function in place of the real sampling loop.
type fakeEngine struct {
	run func(ctx context.Context, userMessage string, hooks engine.Hooks, cfg engine.Config) error
}

func (f *fakeEngine) Run(ctx context.Context, userMessage string, hooks engine.Hooks, cfg engine.Config) error {
	return f.run(ctx, userMessage, hooks, cfg)
}

// recorderConn captures relayed frames and write deadlines.
type recorderConn struct {
	mu        sync.Mutex
	events    []domain.StreamEvent
	deadlines []time.Time
	err       error
}

func (c *recorderConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, v.(domain.StreamEvent))
	return nil
}

func (c *recorderConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *recorderConn) frames() []domain.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.StreamEvent(nil), c.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		MessageBatchSize: 10,
		Model:            "test-model",
		MaxTokens:        1024,
		AnthropicAPIKey:  "test-key",
	}
}

func newTestSession(t *testing.T, cs *countingStore, session domain.Session) {
	t.Helper()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusActive
	}
	require.NoError(t, cs.Store.CreateSession(context.Background(), &session))
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func sessionStatus(t *testing.T, cs *countingStore, id string) domain.SessionStatus {
	t.Helper()
	session, err := cs.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session.Status
}

func TestRunCompletesAndPersistsInOrder(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1"})

	eng := &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		for i := 0; i < 3; i++ {
			if err := hooks.OnContent(ctx, engine.ContentBlock{Type: "text", Text: fmt.Sprintf("chunk-%d", i)}); err != nil {
				return err
			}
		}
		return nil
	}}

	conn := &recorderConn{}
	r := New(testConfig(), eng)
	h := r.Start("s1", "do the thing", cs, conn, "")
	waitDone(t, h)

	assert.NoError(t, h.Err())
	assert.Equal(t, domain.SessionStatusCompleted, sessionStatus(t, cs, "s1"))
	assert.False(t, r.IsActive("s1"))

	messages, err := cs.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, messages, 4) // user message + 3 content events

	var user map[string]any
	require.NoError(t, json.Unmarshal([]byte(messages[0].Content), &user))
	assert.Equal(t, "do the thing", user["text"])
	assert.Equal(t, "user", user["role"])

	for i := 1; i < 4; i++ {
		var block engine.ContentBlock
		require.NoError(t, json.Unmarshal([]byte(messages[i].Content), &block))
		assert.Equal(t, fmt.Sprintf("chunk-%d", i-1), block.Text)
	}

	frames := conn.frames()
	require.Len(t, frames, 4) // 3 text frames + completed
	assert.Equal(t, domain.EventTypeText, frames[0].Type)
	assert.Equal(t, domain.EventTypeCompleted, frames[3].Type)
}

func TestRunBatchThreshold(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1"})

	eng := &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		for i := 0; i < 10; i++ {
			if err := hooks.OnContent(ctx, engine.ContentBlock{Type: "text", Text: fmt.Sprintf("e%d", i)}); err != nil {
				return err
			}
		}
		return nil
	}}

	r := New(testConfig(), eng)
	h := r.Start("s1", "go", cs, nil, "")
	waitDone(t, h)

	// user message + 9 events fill the first batch of 10; the 10th event
	// rides the terminal flush.
	assert.Equal(t, []int{10, 1}, cs.batchSizes())

	messages, err := cs.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, messages, 11)
}

func TestRunCancelledMidRun(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1"})

	emitted := make(chan struct{})
	eng := &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		for i := 0; i < 3; i++ {
			if err := hooks.OnContent(ctx, engine.ContentBlock{Type: "text", Text: fmt.Sprintf("e%d", i)}); err != nil {
				return err
			}
		}
		close(emitted)
		<-ctx.Done()
		return ctx.Err()
	}}

	r := New(testConfig(), eng)
	h := r.Start("s1", "go", cs, nil, "")

	<-emitted
	r.Cancel("s1")
	waitDone(t, h)

	assert.ErrorIs(t, h.Err(), context.Canceled)
	assert.Equal(t, domain.SessionStatusCancelled, sessionStatus(t, cs, "s1"))
	assert.False(t, r.IsActive("s1"))

	// The supervisor drain wrote one batch of 4 (user + 3 events); the
	// run's own flush found the buffer empty.
	assert.Equal(t, []int{4}, cs.batchSizes())

	messages, err := cs.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestRunEngineFailure(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1"})

	boom := errors.New("model exploded")
	eng := &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		if err := hooks.OnContent(ctx, engine.ContentBlock{Type: "text", Text: "partial"}); err != nil {
			return err
		}
		return boom
	}}

	conn := &recorderConn{}
	r := New(testConfig(), eng)
	h := r.Start("s1", "go", cs, conn, "")
	waitDone(t, h)

	assert.ErrorIs(t, h.Err(), boom)
	assert.Equal(t, domain.SessionStatusError, sessionStatus(t, cs, "s1"))

	messages, err := cs.GetMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, messages, 2) // user message + 1 buffered event survived

	frames := conn.frames()
	var errorFrames int
	for _, f := range frames {
		if f.Type == domain.EventTypeError {
			errorFrames++
		}
	}
	assert.Equal(t, 1, errorFrames)
}

func TestRunMissingSessionIsSilent(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}

	eng := &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		t.Error("engine must not run for a missing session")
		return nil
	}}

	r := New(testConfig(), eng)
	h := r.Start("missing", "go", cs, nil, "")
	waitDone(t, h)

	assert.NoError(t, h.Err())
	assert.False(t, r.IsActive("missing"))
	assert.Empty(t, cs.batchSizes())
}

func TestCancelWaitsForRunExit(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1"})

	started := make(chan struct{})
	eng := &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}

	r := New(testConfig(), eng)
	h := r.Start("s1", "go", cs, nil, "")
	<-started
	r.Cancel("s1")

	// Cancel joins the run goroutine, so by the time it returns the
	// terminal bookkeeping is done and a successor status write is safe.
	select {
	case <-h.Done():
	default:
		t.Fatal("Cancel returned before the run exited")
	}
	assert.False(t, r.IsActive("s1"))
	assert.Equal(t, domain.SessionStatusCancelled, sessionStatus(t, cs, "s1"))

	require.NoError(t, cs.UpdateSessionStatus(context.Background(), "s1", domain.SessionStatusFinished))
	assert.Equal(t, domain.SessionStatusFinished, sessionStatus(t, cs, "s1"))
}

func TestCancelWithoutActiveRunIsNoop(t *testing.T) {
	r := New(testConfig(), &fakeEngine{})
	r.Cancel("nothing-here") // must not panic or mutate anything
	assert.False(t, r.IsActive("nothing-here"))
}

func TestRunMissingCredential(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1"})

	cfg := testConfig()
	cfg.AnthropicAPIKey = ""

	// The real engine rejects a missing key before any network call.
	r := New(cfg, engine.NewAnthropic(nil))
	h := r.Start("s1", "go", cs, nil, "")
	waitDone(t, h)

	assert.Error(t, h.Err())
	assert.Equal(t, domain.SessionStatusError, sessionStatus(t, cs, "s1"))
}

// makePNG returns a base64 PNG of the given size.
func makePNG(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func toolEngine(image string) *fakeEngine {
	return &fakeEngine{run: func(ctx context.Context, msg string, hooks engine.Hooks, cfg engine.Config) error {
		return hooks.OnToolResult(ctx, "tool-1", engine.ToolResult{
			Output:      "clicked",
			Base64Image: image,
		})
	}}
}

func lastToolResultRecord(t *testing.T, cs *countingStore, sessionID string) map[string]any {
	t.Helper()
	messages, err := cs.GetMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, messages)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(messages[len(messages)-1].Content), &record))
	require.Equal(t, "tool_result", record["type"])
	return record
}

func TestToolResultScreenshotDisabled(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{SessionID: "s1", StoreScreenshots: false})

	r := New(testConfig(), toolEngine(makePNG(t, 200, 100)))
	h := r.Start("s1", "go", cs, nil, "")
	waitDone(t, h)

	record := lastToolResultRecord(t, cs, "s1")
	assert.Equal(t, "tool-1", record["tool_id"])
	assert.Equal(t, "clicked", record["output"])
	_, hasScreenshot := record["screenshot"]
	assert.False(t, hasScreenshot)
}

func TestToolResultScreenshotResized(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{
		SessionID:         "s1",
		StoreScreenshots:  true,
		ScreenshotScale:   2,
		ScreenshotQuality: 70,
	})

	r := New(testConfig(), toolEngine(makePNG(t, 200, 100)))
	h := r.Start("s1", "go", cs, nil, "")
	waitDone(t, h)

	record := lastToolResultRecord(t, cs, "s1")
	encoded, ok := record["screenshot"].(string)
	require.True(t, ok, "expected screenshot field")

	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestToolResultBadScreenshotFallsBack(t *testing.T) {
	st, err := newBareStore(t)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	newTestSession(t, cs, domain.Session{
		SessionID:         "s1",
		StoreScreenshots:  true,
		ScreenshotScale:   2,
		ScreenshotQuality: 70,
	})

	r := New(testConfig(), toolEngine("not-an-image"))
	h := r.Start("s1", "go", cs, nil, "")
	waitDone(t, h)

	assert.NoError(t, h.Err())
	record := lastToolResultRecord(t, cs, "s1")
	assert.Equal(t, "not-an-image", record["screenshot"])
}
