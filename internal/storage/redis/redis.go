package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyCredentials      = "rovas:credentials"
	keyTrackedSeconds   = "rovas:tracked_seconds"
	keySubmissionIndex  = "rovas:submissions"
	keySubmissionPrefix = "rovas:submission:"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client          *redis.Client
	credentialStore *credentialStore
	trackedStore    *trackedTimeStore
	submissionStore *submissionStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, historyLimit int) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = storage.DefaultHistoryLimit
	}

	return &Store{
		client:          client,
		credentialStore: &credentialStore{client: client},
		trackedStore:    &trackedTimeStore{client: client},
		submissionStore: &submissionStore{client: client, limit: historyLimit, script: redis.NewScript(recordSubmissionScript)},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Credentials returns the CredentialStore implementation
func (s *Store) Credentials() storage.CredentialStore {
	return s.credentialStore
}

// TrackedTime returns the TrackedTimeStore implementation
func (s *Store) TrackedTime() storage.TrackedTimeStore {
	return s.trackedStore
}

// Submissions returns the SubmissionStore implementation
func (s *Store) Submissions() storage.SubmissionStore {
	return s.submissionStore
}
