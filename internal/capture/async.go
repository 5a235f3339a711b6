package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/setevik/errtrack/internal/group"
	"github.com/setevik/errtrack/internal/metrics"
	"github.com/setevik/errtrack/internal/report"
)

// Worker drains a bounded queue of reports through the same capture
// pipeline as the synchronous path. Enqueueing never blocks: when the queue
// is full the report is dropped and counted, which keeps the host
// application's threads unaffected under load.
type Worker struct {
	capturer *Capturer
	queue    chan report.Report
	onGroup  func(context.Context, *group.Group)
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWorker creates a Worker with the given queue size. A size of 0 or less
// disables queuing entirely: Enqueue then drops everything.
func NewWorker(c *Capturer, size int) *Worker {
	w := &Worker{capturer: c}
	if size > 0 {
		w.queue = make(chan report.Report, size)
	}
	return w
}

// OnGroup registers a callback invoked with each group the drain goroutine
// produces. Must be set before Start.
func (w *Worker) OnGroup(fn func(context.Context, *group.Group)) {
	w.onGroup = fn
}

// Start launches the drain goroutine. It runs until ctx is cancelled, then
// drains whatever is already queued before returning.
func (w *Worker) Start(ctx context.Context) {
	if w.queue == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case r, ok := <-w.queue:
				if !ok {
					return
				}
				w.process(ctx, r)
			case <-ctx.Done():
				w.drain()
				return
			}
		}
	}()
}

func (w *Worker) process(ctx context.Context, r report.Report) {
	g := w.capturer.Capture(ctx, r)
	if g != nil && w.onGroup != nil {
		w.onGroup(ctx, g)
	}
}

// Enqueue hands a report to the background worker. Returns false when the
// report was dropped (queue full or disabled).
func (w *Worker) Enqueue(r report.Report) bool {
	if w.queue == nil {
		metrics.QueueDropped.Inc()
		return false
	}
	select {
	case w.queue <- r:
		return true
	default:
		metrics.QueueDropped.Inc()
		slog.Warn("capture queue full, dropping report", "type", r.Type)
		return false
	}
}

// Stop waits for the drain goroutine to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.once.Do(func() {
		if w.queue != nil {
			close(w.queue)
		}
	})
	w.wg.Wait()
}

func (w *Worker) drain() {
	for {
		select {
		case r, ok := <-w.queue:
			if !ok {
				return
			}
			w.process(context.Background(), r)
		default:
			return
		}
	}
}
