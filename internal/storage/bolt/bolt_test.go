package bolt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/rovas-connector/internal/storage"
)

func TestCredentialStore(t *testing.T) {
	store := openTestStore(t, 0)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	creds := store.Credentials()

	if _, err := creds.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("load empty store: expected ErrNotFound, got %v", err)
	}

	if err := creds.Save(ctx, storage.StoredCredentials{APIKey: "key", APIToken: "token", ProjectID: 42}); err != nil {
		t.Fatalf("save credentials: %v", err)
	}

	got, err := creds.Load(ctx)
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	if got.APIKey != "key" || got.APIToken != "token" || got.ProjectID != 42 {
		t.Fatalf("unexpected credentials: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be set")
	}

	if err := creds.Clear(ctx); err != nil {
		t.Fatalf("clear credentials: %v", err)
	}
	if _, err := creds.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("load after clear: expected ErrNotFound, got %v", err)
	}
	if err := creds.Clear(ctx); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestTrackedTimeStore(t *testing.T) {
	store := openTestStore(t, 0)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	tracked := store.TrackedTime()

	seconds, err := tracked.Get(ctx)
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if seconds != 0 {
		t.Fatalf("expected 0 seconds, got %d", seconds)
	}

	if err := tracked.Set(ctx, 1234); err != nil {
		t.Fatalf("set: %v", err)
	}
	if seconds, _ := tracked.Get(ctx); seconds != 1234 {
		t.Fatalf("expected 1234 seconds, got %d", seconds)
	}
}

func TestTrackedTimeSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rovas.bolt")

	store, err := Open(path, 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.TrackedTime().Set(context.Background(), 900); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = store.Close()

	store, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if seconds, _ := store.TrackedTime().Get(context.Background()); seconds != 900 {
		t.Fatalf("expected 900 seconds after reopen, got %d", seconds)
	}
}

func TestSubmissionStoreHistory(t *testing.T) {
	store := openTestStore(t, 3)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	history := store.Submissions()
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := history.Record(ctx, storage.SubmissionRecord{
			ID:         fmt.Sprintf("sub-%d", i),
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
			Minutes:    int64(10 + i),
			State:      "done",
		}); err != nil {
			t.Fatalf("record submission %d: %v", i, err)
		}
	}

	records, err := history.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after trim, got %d", len(records))
	}
	if records[0].ID != "sub-4" || records[2].ID != "sub-2" {
		t.Fatalf("unexpected order: %s .. %s", records[0].ID, records[2].ID)
	}

	limited, err := history.List(ctx, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "sub-4" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}

	deleted, err := history.DeleteBefore(ctx, base.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted records, got %d", deleted)
	}
}

func openTestStore(t *testing.T, historyLimit int) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rovas.bolt")
	store, err := Open(path, historyLimit)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
