package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Credentials() CredentialStore
	TrackedTime() TrackedTimeStore
	Submissions() SubmissionStore
}

// CredentialStore keeps the one set of Rovas credentials in use.
type CredentialStore interface {
	// Load returns ErrNotFound when no credentials have been saved.
	Load(ctx context.Context) (*StoredCredentials, error)
	Save(ctx context.Context, creds StoredCredentials) error
	Clear(ctx context.Context) error
}

// TrackedTimeStore keeps the seconds tracked but not reported when a session ended.
type TrackedTimeStore interface {
	// Get returns 0 when nothing has been stored.
	Get(ctx context.Context) (int64, error)
	Set(ctx context.Context, seconds int64) error
}

// SubmissionStore keeps the history of finished submissions, newest first.
type SubmissionStore interface {
	Record(ctx context.Context, record SubmissionRecord) error
	List(ctx context.Context, limit int) ([]SubmissionRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
