package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/rovas-connector/internal/storage"
	"go.etcd.io/bbolt"
)

type submissionStore struct {
	db    *bbolt.DB
	limit int
}

// Record appends a finished submission and drops the oldest records beyond the limit.
func (s *submissionStore) Record(ctx context.Context, record storage.SubmissionRecord) error {
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now()
	}

	key, err := historyKey(record.FinishedAt)
	if err != nil {
		return err
	}
	data, err := marshal(record)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketSubmissions))
		if bucket == nil {
			return fmt.Errorf("bucket missing: %s", bucketSubmissions)
		}
		if err := bucket.Put([]byte(key), data); err != nil {
			return err
		}

		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.limit; i++ {
			if err := bucket.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to limit records, newest first. A limit of zero or less returns all.
func (s *submissionStore) List(ctx context.Context, limit int) ([]storage.SubmissionRecord, error) {
	records := make([]storage.SubmissionRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketSubmissions))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if limit > 0 && len(records) >= limit {
				break
			}
			var record storage.SubmissionRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteBefore removes records that finished before cutoff.
func (s *submissionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketSubmissions))
		if bucket == nil {
			return nil
		}
		var expired [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record storage.SubmissionRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			if record.FinishedAt.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
