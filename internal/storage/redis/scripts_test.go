package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestRecordSubmissionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	tests := []struct {
		name      string
		id        string
		score     int64
		wantCount int64
		wantGone  string
	}{
		{name: "first record", id: "a", score: 100, wantCount: 1},
		{name: "second record", id: "b", score: 200, wantCount: 2},
		{name: "third record trims oldest", id: "c", score: 300, wantCount: 3, wantGone: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := client.Eval(ctx, recordSubmissionScript, []string{
				keySubmissionPrefix + tt.id,
				keySubmissionIndex,
			}, tt.id, tt.score, 2, keySubmissionPrefix, "id", tt.id, "state", "done")

			count, err := result.Int64()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if count != tt.wantCount {
				t.Errorf("Expected count=%d, got %d", tt.wantCount, count)
			}

			data := client.HGetAll(ctx, keySubmissionPrefix+tt.id).Val()
			if data["id"] != tt.id || data["state"] != "done" {
				t.Errorf("Unexpected hash: %v", data)
			}

			if tt.wantGone != "" {
				if mr.Exists(keySubmissionPrefix + tt.wantGone) {
					t.Errorf("Expected %s to be deleted", tt.wantGone)
				}
				if _, err := client.ZScore(ctx, keySubmissionIndex, tt.wantGone).Result(); err != redis.Nil {
					t.Errorf("Expected %s to be removed from index, got %v", tt.wantGone, err)
				}
			}
		})
	}

	if n := client.ZCard(ctx, keySubmissionIndex).Val(); n != 2 {
		t.Errorf("Expected index size 2, got %d", n)
	}
}

func TestDeleteSubmissionsBeforeScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		client.HSet(ctx, keySubmissionPrefix+id, "id", id)
		client.ZAdd(ctx, keySubmissionIndex, redis.Z{Score: float64((i + 1) * 100), Member: id})
	}

	deleted, err := client.Eval(ctx, deleteSubmissionsBeforeScript, []string{keySubmissionIndex},
		"200", keySubmissionPrefix).Int64()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
	if mr.Exists(keySubmissionPrefix + "a") {
		t.Error("Expected a to be deleted")
	}
	if !mr.Exists(keySubmissionPrefix + "b") {
		t.Error("Expected b to remain (cutoff is exclusive)")
	}
}
