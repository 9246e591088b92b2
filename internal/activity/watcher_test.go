package activity

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingRecorder struct {
	n atomic.Int64
}

func (c *countingRecorder) TrackChangeNow() { c.n.Add(1) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, dir string, ignore []string) *countingRecorder {
	t.Helper()

	rec := &countingRecorder{}
	w, err := NewWatcher([]string{dir}, ignore, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return rec
}

func TestWatcherRecordsWrites(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir, nil)

	if err := os.WriteFile(filepath.Join(dir, "map.osm"), []byte("<osm/>"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	waitFor(t, func() bool { return rec.n.Load() > 0 })
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir, nil)

	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	waitFor(t, func() bool { return rec.n.Load() > 0 })

	// Give the watcher time to register the new directory.
	time.Sleep(100 * time.Millisecond)
	before := rec.n.Load()
	if err := os.WriteFile(filepath.Join(sub, "edit.osm"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	waitFor(t, func() bool { return rec.n.Load() > before })
}

func TestWatcherIgnoresPatterns(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir, []string{"*.swp"})

	if err := os.WriteFile(filepath.Join(dir, ".map.osm.swp"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := rec.n.Load(); n != 0 {
		t.Errorf("ignored file produced %d events", n)
	}
}

func TestNewWatcherRejectsBadPattern(t *testing.T) {
	if _, err := NewWatcher(nil, []string{"[unclosed"}, &countingRecorder{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}

func TestWatcherMissingPath(t *testing.T) {
	w, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent")}, nil, &countingRecorder{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
