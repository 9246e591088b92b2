package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/goodtune/rovas-connector/internal/timetrack"
	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored credentials, unreported time and recent submissions",
	Long: `Show what rovas has stored: the credentials in use (masked), the time left
over from the last session, and the most recent submissions.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5, "Number of recent submissions to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return printStoreStatus(cmd.Context(), cmd.OutOrStdout(), store, statusLimit)
}

func printStoreStatus(ctx context.Context, out io.Writer, store storage.Store, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Fprintln(out)
	cyan.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Fprintln(out, "ROVAS STATUS")
	cyan.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(out)

	cyan.Fprint(out, "Credentials: ")
	creds, err := store.Credentials().Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		yellow.Fprintln(out, "NOT SET")
		fmt.Fprintln(out, "             → run 'rovas credentials set' or set ROVAS_API_KEY, ROVAS_API_TOKEN and ROVAS_PROJECT_ID")
	case err != nil:
		return fmt.Errorf("failed to load credentials: %w", err)
	default:
		green.Fprintln(out, "SET")
		fmt.Fprintf(out, "             → API key %s\n", rovas.Mask(creds.APIKey))
		fmt.Fprintf(out, "             → project %d\n", creds.ProjectID)
		if !creds.UpdatedAt.IsZero() {
			fmt.Fprintf(out, "             → updated %s\n", creds.UpdatedAt.Format("2006-01-02 15:04"))
		}
	}
	fmt.Fprintln(out)

	seconds, err := store.TrackedTime().Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tracked time: %w", err)
	}
	cyan.Fprint(out, "Unreported:  ")
	fmt.Fprintf(out, "%s\n", formatMinutes(timetrack.SecondsToMinutes(seconds)))
	fmt.Fprintln(out)

	records, err := store.Submissions().List(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list submissions: %w", err)
	}
	cyan.Fprintln(out, "Recent submissions:")
	if len(records) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, r := range records {
		state := green
		if !r.Completed {
			state = red
		}
		fmt.Fprintf(out, "  %s  %-7s ", r.FinishedAt.Format("2006-01-02 15:04"), formatMinutes(r.Minutes))
		state.Fprint(out, r.State)
		if r.WorkRecordID > 0 {
			fmt.Fprintf(out, "  work report %d", r.WorkRecordID)
		}
		if r.ReferenceID > 0 {
			fmt.Fprintf(out, "  ref %d", r.ReferenceID)
		}
		if r.Error != "" {
			fmt.Fprintf(out, "  (%s)", r.Error)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)

	return nil
}
