package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/rovas-connector/internal/activity"
	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/goodtune/rovas-connector/internal/control"
	"github.com/goodtune/rovas-connector/internal/metrics"
	"github.com/goodtune/rovas-connector/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rovas daemon",
	Long: `Start the rovas daemon: watch the configured paths for editing activity and
serve the local control API and metrics endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting rovas daemon")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, control.NewPrompter(logger), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Nobody can be asked in daemon mode; the snapshot waits for POST /api/previous.
	if !applyRestorePrevious(a.session, cfg.Tracking.RestorePrevious) {
		logger.Info().
			Int64("minutes", a.session.PreviousMinutes()).
			Msg("Previously tracked time is waiting to be added or discarded")
	}

	// Initialize Activity Watcher
	var watcher *activity.Watcher
	if len(cfg.Tracking.WatchPaths) > 0 {
		watcher, err = activity.NewWatcher(cfg.Tracking.WatchPaths, cfg.Tracking.WatchIgnore, a.acc, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize activity watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start activity watcher: %w", err)
		}
		logger.Info().Strs("paths", cfg.Tracking.WatchPaths).Msg("Activity watcher started")
	}

	// Initialize Control Server
	controlAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.ControlPort)
	controlServer, err := control.NewServer(control.Config{
		ListenAddr:         controlAddr,
		ReferenceCacheSize: control.DefaultReferenceCacheSize,
	}, a.session, a.store.Submissions(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize control server: %w", err)
	}

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Control != nil {
		controlServer.SetListener(sdListeners.Control)
	}

	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	logger.Info().
		Str("addr", controlAddr).
		Msg("Control server started")

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsEnabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}

		logger.Info().
			Str("addr", metricsAddr).
			Msg("Metrics server started")
	}

	// Hot-reload settings that a running session can pick up
	if err := config.Watch(configPath, logger, func(next *config.Config) {
		a.acc.SetTolerance(next.Tracking.Tolerance())
		a.session.SetUnpaidEditor(next.Tracking.UnpaidEditor)
	}); err != nil {
		logger.Warn().Err(err).Msg("Configuration changes will not be reloaded")
	}

	go runHistoryPruner(ctx, a.store.Submissions(), cfg.Storage.Retention(), historyPruneInterval, logger)

	underSystemd := systemd.IsSystemdService()
	if underSystemd {
		go systemd.RunWatchdog(ctx, logger)
	}

	logger.Info().Msg("rovas startup complete")

	// Notify systemd that we're ready to serve requests
	if underSystemd {
		if err := systemd.NotifyReady(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
		} else {
			logger.Debug().Msg("Sent systemd ready notification")
		}
	}

	// Wait for signals (shutdown or persist)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, saving tracked time...")
			if err := persist(a, logger); err != nil {
				logger.Error().Err(err).Msg("Failed to save tracked time")
			}
			// Continue running
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			// Break out of loop to shutdown
		}

		// Only reached on shutdown signals
		break
	}

	// Notify systemd that we're stopping
	if underSystemd {
		if err := systemd.NotifyStopping(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
		}
	}

	// Stop servers
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping activity watcher")
		}
	}

	if err := controlServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping control server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	if err := persist(a, logger); err != nil {
		logger.Error().Err(err).Msg("Failed to save tracked time")
	}

	logger.Info().Msg("rovas stopped")

	return nil
}

const (
	// persistTimeout leaves a running submission time for its work report and usage record.
	persistTimeout = 25 * time.Second

	historyPruneInterval = 24 * time.Hour
)

// persist saves the unreported time so the next session can offer it back.
func persist(a *app, logger zerolog.Logger) error {
	if sub := a.session.Active(); sub != nil {
		logger.Info().Str("submission_id", sub.ID()).Msg("Waiting for the running submission before saving tracked time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return a.session.Persist(ctx)
}
