package gamelog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives audit records from the turn pipeline. Recording is best
// effort: a Sink never fails the caller.
type Sink interface {
	// Record stores payload under label for gameID. Strings are stored as
	// text, values implementing [Diagram] as diagrams and everything else as
	// JSON.
	Record(ctx context.Context, gameID, label string, payload any)
}

// Diagram is implemented by payloads that render as a mermaid flowchart.
type Diagram interface {
	Mermaid() string
}

// NopSink discards every record.
type NopSink struct{}

// Record implements [Sink].
func (NopSink) Record(context.Context, string, string, any) {}

// Classify converts payload to its stored kind and body.
func Classify(payload any) (Kind, string) {
	switch p := payload.(type) {
	case Diagram:
		return KindDiagram, p.Mermaid()
	case string:
		return KindText, p
	case fmt.Stringer:
		return KindText, p.String()
	case error:
		return KindText, p.Error()
	case nil:
		return KindText, ""
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return KindText, fmt.Sprintf("%+v", payload)
	}
	return KindStructured, string(b)
}

const defaultQueueSize = 256

// item is either an event to store or a flush barrier.
type item struct {
	ev      Event
	barrier chan struct{}
}

// Recorder is an asynchronous [Sink] backed by a [Store]. Records are queued
// and written in order by a single background goroutine, so the turn never
// waits on the log store. When the queue is full, new records are dropped
// with a warning.
//
// Call Close to drain the queue on shutdown.
type Recorder struct {
	store Store
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan item
	done   chan struct{}
}

var _ Sink = (*Recorder)(nil)

// RecorderOption configures a [Recorder].
type RecorderOption func(*recorderConfig)

type recorderConfig struct {
	queueSize int
	now       func() time.Time
}

// WithQueueSize sets the number of records that may wait for the store.
func WithQueueSize(n int) RecorderOption {
	return func(c *recorderConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(c *recorderConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewRecorder starts a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	cfg := recorderConfig{queueSize: defaultQueueSize, now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	r := &Recorder{
		store: store,
		now:   cfg.now,
		queue: make(chan item, cfg.queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record implements [Sink].
func (r *Recorder) Record(ctx context.Context, gameID, label string, payload any) {
	kind, body := Classify(payload)
	ev := Event{
		ID:     uuid.NewString(),
		GameID: gameID,
		Label:  label,
		Kind:   kind,
		Body:   body,
		At:     r.now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		slog.Debug("gamelog: recorder closed, dropping event", "game_id", gameID, "label", label)
		return
	}
	select {
	case r.queue <- item{ev: ev}:
	default:
		slog.Warn("gamelog: event queue full, dropping event", "game_id", gameID, "label", label)
	}
}

// Flush blocks until every record queued before the call has been written,
// or ctx is done.
func (r *Recorder) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.queue <- item{barrier: barrier}:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and waits until the queue is drained or ctx
// is done. Close is idempotent.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gamelog: close recorder: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for it := range r.queue {
		if it.barrier != nil {
			close(it.barrier)
			continue
		}
		if err := r.store.AppendEvent(context.Background(), it.ev); err != nil {
			slog.Warn("gamelog: failed to store event",
				"game_id", it.ev.GameID,
				"label", it.ev.Label,
				"err", err,
			)
		}
	}
}
