package spool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileSource implements Source by tailing an NDJSON spool file. It starts
// at the current end of file and polls for appended lines, surviving
// truncation (log rotation) by reopening from the start.
type FileSource struct {
	path     string
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFileSource creates a FileSource polling at the given interval. An
// interval of 0 defaults to one second.
func NewFileSource(path string, interval time.Duration) *FileSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &FileSource{path: path, interval: interval}
}

func (f *FileSource) Reports(ctx context.Context) (<-chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening spool file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		cancel()
		return nil, fmt.Errorf("seeking spool file: %w", err)
	}

	ch := make(chan []byte, 64)

	go func() {
		defer close(ch)
		defer file.Close()

		reader := bufio.NewReader(file)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 1 {
				// Copy: the reader reuses its buffer.
				out := make([]byte, len(line)-1)
				copy(out, line[:len(line)-1])
				select {
				case ch <- out:
				case <-ctx.Done():
					return
				}
			}
			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				slog.Warn("spool read error", "error", err)
				return
			}

			// At EOF: wait for growth, watching for truncation.
			select {
			case <-ticker.C:
				if truncated(file) {
					if _, err := file.Seek(0, io.SeekStart); err != nil {
						slog.Warn("spool reset failed", "error", err)
						return
					}
					reader.Reset(file)
					slog.Info("spool file truncated, restarting from top", "path", f.path)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("spool watcher started", "path", f.path)
	return ch, nil
}

func (f *FileSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

// truncated reports whether the file shrank below our current offset.
func truncated(file *os.File) bool {
	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Size() < pos
}
