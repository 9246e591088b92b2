package bolt

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/rovas-connector/internal/storage"
	"go.etcd.io/bbolt"
)

type credentialStore struct {
	db *bbolt.DB
}

// Load retrieves the saved credentials.
func (s *credentialStore) Load(ctx context.Context) (*storage.StoredCredentials, error) {
	return getBucketValue[storage.StoredCredentials](ctx, s.db, bucketCredentials, keyActiveCredentials)
}

// Save replaces the saved credentials.
func (s *credentialStore) Save(ctx context.Context, creds storage.StoredCredentials) error {
	if creds.UpdatedAt.IsZero() {
		creds.UpdatedAt = time.Now()
	}
	return putBucketValue(ctx, s.db, bucketCredentials, keyActiveCredentials, creds)
}

// Clear removes the saved credentials.
func (s *credentialStore) Clear(ctx context.Context) error {
	return deleteBucketValue(ctx, s.db, bucketCredentials, keyActiveCredentials)
}

type trackedTimeStore struct {
	db *bbolt.DB
}

// Get returns the stored seconds, or 0 when none were stored.
func (s *trackedTimeStore) Get(ctx context.Context) (int64, error) {
	seconds, err := getBucketValue[int64](ctx, s.db, bucketTrackedTime, keyTrackedSeconds)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return *seconds, nil
}

// Set stores the tracked seconds.
func (s *trackedTimeStore) Set(ctx context.Context, seconds int64) error {
	return putBucketValue(ctx, s.db, bucketTrackedTime, keyTrackedSeconds, seconds)
}
