package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/redis/go-redis/v9"
)

type credentialStore struct {
	client *redis.Client
}

// Load retrieves the saved credentials
func (s *credentialStore) Load(ctx context.Context) (*storage.StoredCredentials, error) {
	data, err := s.client.HGetAll(ctx, keyCredentials).Result()
	if err != nil {
		return nil, err
	}
	return parseCredentials(data)
}

// Save replaces the saved credentials
func (s *credentialStore) Save(ctx context.Context, creds storage.StoredCredentials) error {
	if creds.UpdatedAt.IsZero() {
		creds.UpdatedAt = time.Now()
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyCredentials)
	pipe.HSet(ctx, keyCredentials,
		"api_key", creds.APIKey,
		"api_token", creds.APIToken,
		"project_id", creds.ProjectID,
		"updated_at", creds.UpdatedAt.Format(time.RFC3339Nano),
	)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear removes the saved credentials
func (s *credentialStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, keyCredentials).Err()
}

type trackedTimeStore struct {
	client *redis.Client
}

// Get returns the stored seconds, or 0 when none were stored
func (s *trackedTimeStore) Get(ctx context.Context) (int64, error) {
	seconds, err := s.client.Get(ctx, keyTrackedSeconds).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seconds, nil
}

// Set stores the tracked seconds
func (s *trackedTimeStore) Set(ctx context.Context, seconds int64) error {
	return s.client.Set(ctx, keyTrackedSeconds, seconds, 0).Err()
}

type submissionStore struct {
	client *redis.Client
	limit  int
	script *redis.Script
}

// Record stores a finished submission and trims the history
func (s *submissionStore) Record(ctx context.Context, record storage.SubmissionRecord) error {
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now()
	}

	keys := []string{keySubmissionPrefix + record.ID, keySubmissionIndex}
	args := []interface{}{
		record.ID,
		record.FinishedAt.UnixMilli(),
		s.limit,
		keySubmissionPrefix,
	}
	args = append(args, submissionFields(record)...)

	return s.script.Run(ctx, s.client, keys, args...).Err()
}

// List returns up to limit records, newest first
func (s *submissionStore) List(ctx context.Context, limit int) ([]storage.SubmissionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, keySubmissionIndex, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.SubmissionRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, keySubmissionPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	records := make([]storage.SubmissionRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		record, err := parseSubmission(data)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// DeleteBefore removes records that finished before cutoff
func (s *submissionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	script := redis.NewScript(deleteSubmissionsBeforeScript)
	n, err := script.Run(ctx, s.client, []string{keySubmissionIndex},
		strconv.FormatInt(cutoff.UnixMilli(), 10), keySubmissionPrefix).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
