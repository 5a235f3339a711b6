package spool

import (
	"context"
	"log/slog"
	"time"
)

// SupervisedSource restarts a failing Source until its context ends. Spool
// files disappear and reappear across deploys and log rotations; a tail
// failure should not take the whole pipeline down with it.
type SupervisedSource struct {
	factory     func() Source
	restartWait time.Duration
	maxRestarts int // 0 retries forever
}

// NewSupervisedSource wraps a source factory with restart supervision,
// waiting restartWait between attempts.
func NewSupervisedSource(factory func() Source, restartWait time.Duration, maxRestarts int) *SupervisedSource {
	return &SupervisedSource{
		factory:     factory,
		restartWait: restartWait,
		maxRestarts: maxRestarts,
	}
}

// Reports returns a channel fed by successive incarnations of the underlying
// source. It closes when ctx is cancelled or the restart budget runs out.
func (s *SupervisedSource) Reports(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	go s.supervise(ctx, out)
	return out, nil
}

func (s *SupervisedSource) supervise(ctx context.Context, out chan<- []byte) {
	defer close(out)

	for attempt := 0; s.maxRestarts == 0 || attempt < s.maxRestarts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartWait):
			}
		}

		src := s.factory()
		lines, err := src.Reports(ctx)
		if err != nil {
			slog.Error("spool source failed to start", "attempt", attempt, "error", err)
			continue
		}
		slog.Info("spool source running", "attempt", attempt)

		sourceClosed := forward(ctx, lines, out)
		src.Stop()
		if !sourceClosed {
			return
		}
		slog.Warn("spool source stopped, restarting")
	}

	slog.Error("spool source gave up restarting", "max_restarts", s.maxRestarts)
}

// forward copies lines from the active source to the supervised channel.
// It returns true when the source channel closed and false when the context
// ended first.
func forward(ctx context.Context, in <-chan []byte, out chan<- []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-in:
			if !ok {
				return true
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return false
			}
		}
	}
}

// Stop is a no-op; lifecycle is driven by the context passed to Reports.
func (s *SupervisedSource) Stop() {}
