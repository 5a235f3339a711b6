// Package spool feeds occurrence reports into the daemon by tailing an
// NDJSON spool file that host-side SDKs append to.
package spool

import (
	"context"
)

// Source is the interface for receiving occurrence reports.
// Implementations include the real spool-file tailer and test mocks.
type Source interface {
	// Reports returns a channel of raw NDJSON report lines. The channel is
	// closed when the source is stopped or the context is cancelled.
	Reports(ctx context.Context) (<-chan []byte, error)

	// Stop signals the source to shut down.
	Stop()
}
