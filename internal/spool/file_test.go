package spool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func collectLines(t *testing.T, ch <-chan []byte, n int) []string {
	t.Helper()
	var lines []string
	timeout := time.After(5 * time.Second)
	for len(lines) < n {
		select {
		case line, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d lines", len(lines), n)
			}
			lines = append(lines, string(line))
		case <-timeout:
			t.Fatalf("timed out after %d of %d lines", len(lines), n)
		}
	}
	return lines
}

func TestFileSourceTailsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	if err := os.WriteFile(path, []byte(`{"type":"Old"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, 10*time.Millisecond)
	defer src.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := src.Reports(ctx)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}

	// Pre-existing content is skipped: the tailer starts at end of file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"A"}` + "\n" + `{"type":"B"}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lines := collectLines(t, ch, 2)
	if lines[0] != `{"type":"A"}` || lines[1] != `{"type":"B"}` {
		t.Errorf("lines = %q", lines)
	}
}

func TestFileSourceSurvivesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.ndjson")
	// Longer than the post-rotation content so the shrink is detectable.
	old := `{"type":"Old","message":"` + strings.Repeat("x", 200) + `"}` + "\n"
	if err := os.WriteFile(path, []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, 10*time.Millisecond)
	defer src.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := src.Reports(ctx)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}

	// Simulate log rotation: truncate, then write fresh content.
	if err := os.WriteFile(path, []byte(`{"type":"Fresh"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	lines := collectLines(t, ch, 1)
	if lines[0] != `{"type":"Fresh"}` {
		t.Errorf("after truncation got %q", lines[0])
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.ndjson"), time.Millisecond)
	if _, err := src.Reports(context.Background()); err == nil {
		t.Error("missing spool file should error")
	}
}

// fakeSource fails a fixed number of times before producing lines.
type fakeSource struct {
	failures *int
	lines    []string
}

func (f *fakeSource) Reports(ctx context.Context) (<-chan []byte, error) {
	if *f.failures > 0 {
		*f.failures--
		return nil, os.ErrNotExist
	}
	ch := make(chan []byte, len(f.lines))
	for _, l := range f.lines {
		ch <- []byte(l)
	}
	close(ch)
	return ch, nil
}

func (f *fakeSource) Stop() {}

func TestSupervisedSourceRestarts(t *testing.T) {
	failures := 2
	s := NewSupervisedSource(func() Source {
		return &fakeSource{failures: &failures, lines: []string{"one", "two"}}
	}, time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Reports(ctx)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}

	lines := collectLines(t, ch, 2)
	if lines[0] != "one" || lines[1] != "two" {
		t.Errorf("lines = %q", lines)
	}
	if failures != 0 {
		t.Errorf("source should have been retried through %d failures", failures)
	}
}

func TestSupervisedSourceMaxRestarts(t *testing.T) {
	failures := 1 << 30
	s := NewSupervisedSource(func() Source {
		return &fakeSource{failures: &failures}
	}, time.Millisecond, 3)

	ch, err := s.Reports(context.Background())
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel, got a line")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel never closed after max restarts")
	}
}
