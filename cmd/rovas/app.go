package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/session"
	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/goodtune/rovas-connector/internal/storage/bolt"
	"github.com/goodtune/rovas-connector/internal/storage/redis"
	"github.com/goodtune/rovas-connector/internal/submit"
	"github.com/goodtune/rovas-connector/internal/timetrack"
	"github.com/rs/zerolog"
)

// app holds the components shared by the daemon and the interactive session.
type app struct {
	store   storage.Store
	acc     *timetrack.Accumulator
	session *session.Session
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path, cfg.HistoryLimit)
	case "redis":
		return redis.Open(cfg.Redis, cfg.HistoryLimit)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'bolt' or 'redis')", storageType)
	}
}

// newApp opens storage and wires the accumulator, API client, submission pipeline and
// session. The caller closes app.store.
func newApp(ctx context.Context, cfg *config.Config, prompter submit.Prompter, logger zerolog.Logger) (*app, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	if err := seedCredentials(ctx, store.Credentials(), logger); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed credentials from the environment")
	}

	previous, err := store.TrackedTime().Get(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load previously tracked time: %w", err)
	}

	acc := timetrack.NewAccumulator(timetrack.Config{
		Tolerance:                cfg.Tracking.Tolerance(),
		PreviouslyTrackedSeconds: previous,
		Store:                    store.TrackedTime(),
	}, logger)

	client, err := rovas.NewClient(rovas.Config{
		BaseURL:   cfg.API.BaseURL,
		Developer: cfg.API.Developer,
		Timeout:   parseDuration(cfg.API.Timeout, rovas.DefaultTimeout),
		UserAgent: cfg.API.UserAgent,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize Rovas client: %w", err)
	}

	logger.Info().
		Str("base_url", client.BaseURL()).
		Bool("developer", cfg.API.Developer).
		Msg("Rovas client initialized")

	pipeline := submit.NewPipeline(submit.Options{
		Transport:   client,
		Credentials: store.Credentials(),
		History:     store.Submissions(),
		Tracker:     acc,
		Prompter:    prompter,
		Settings:    pipelineSettings(cfg),
		NodeURL:     client.NodeURL,
	}, logger)

	sess := session.New(session.Options{
		Accumulator:  acc,
		Submitter:    pipeline,
		TrackedTime:  store.TrackedTime(),
		UnpaidEditor: cfg.Tracking.UnpaidEditor,
	}, logger)

	return &app{
		store:   store,
		acc:     acc,
		session: sess,
	}, nil
}

func pipelineSettings(cfg *config.Config) submit.Settings {
	return submit.Settings{
		MaxRetries:         cfg.API.MaxRetries,
		Classification:     cfg.Report.Classification,
		Description:        cfg.Report.Description,
		ActivityName:       cfg.Report.ActivityName,
		ProofURL:           cfg.Report.ProofURL,
		FeeRate:            cfg.Report.FeeRate,
		ConnectorProjectID: cfg.Report.ConnectorProject(cfg.API.Developer),
		ConnectorName:      cfg.Report.ConnectorName,
	}
}

// seedCredentials stores the environment's credentials when none are stored yet.
func seedCredentials(ctx context.Context, store storage.CredentialStore, logger zerolog.Logger) error {
	env, ok := config.CredentialsFromEnv()
	if !ok {
		return nil
	}

	_, err := store.Load(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	creds, valid := rovas.NewCredentials(env.APIKey, env.APIToken, env.ProjectID)
	if !valid {
		return fmt.Errorf("credentials in the environment are incomplete or invalid")
	}

	if err := saveCredentials(ctx, store, creds); err != nil {
		return err
	}
	logger.Info().Str("api_key", creds.Masked()).Msg("Stored credentials from the environment")
	return nil
}

// applyRestorePrevious handles the previous session's time for the add and discard
// policies. It reports false when the user still has to be asked.
func applyRestorePrevious(sess *session.Session, policy string) bool {
	switch policy {
	case "add":
		sess.RestorePrevious(true)
	case "discard":
		sess.RestorePrevious(false)
	default:
		return sess.PreviousMinutes() == 0
	}
	return true
}

// pruneHistory drops submission history older than retention. A zero retention keeps
// everything.
func pruneHistory(ctx context.Context, history storage.SubmissionStore, retention time.Duration, logger zerolog.Logger) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-retention)
	deleted, err := history.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune submission history: %w", err)
	}
	if deleted > 0 {
		logger.Info().
			Int("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned submission history")
	}
	return deleted, nil
}

// runHistoryPruner prunes submission history now and then once per interval until ctx
// is done.
func runHistoryPruner(ctx context.Context, history storage.SubmissionStore, retention, interval time.Duration, logger zerolog.Logger) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := pruneHistory(ctx, history, retention, logger); err != nil {
			logger.Warn().Err(err).Msg("History pruning failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
