package persistence

import (
	"context"
	"time"

	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/commandqueue"
	"github.com/rs/zerolog/log"
)

// Writer persists records off the caller's path on the commandqueue persist
// lane, preserving submission order.
type Writer struct {
	store *Store
	queue *commandqueue.CommandQueue
	lane  string
}

// NewWriter creates a writer. A nil store yields a writer that drops every record.
func NewWriter(store *Store, queue *commandqueue.CommandQueue) *Writer {
	return &Writer{
		store: store,
		queue: queue,
		lane:  commandqueue.LanePersist,
	}
}

// Enabled reports whether records reach a database.
func (w *Writer) Enabled() bool {
	return w != nil && w.store != nil
}

// Persist schedules one record and returns immediately. The write is not
// tied to ctx cancellation; only tracing values are carried over.
func (w *Writer) Persist(ctx context.Context, author, content string) {
	if !w.Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	detached := tracing.Detach(ctx)
	store := w.store
	w.queue.Submit(detached, w.lane, func(taskCtx context.Context) (interface{}, error) {
		store.TryPersist(taskCtx, author, content)
		return nil, nil
	}, nil)
}

// Flush waits until every scheduled record has been attempted.
func (w *Writer) Flush(timeout time.Duration) bool {
	if !w.Enabled() {
		return true
	}
	drained := w.queue.WaitForLane(w.lane, timeout)
	if !drained {
		log.Warn().Dur("timeout", timeout).Int("pending", w.queue.GetQueueSize(w.lane)).Msg("Transcript writes still pending")
	}
	return drained
}
