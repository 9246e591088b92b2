package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/goodtune/rovas-connector/internal/activity"
	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/goodtune/rovas-connector/internal/session"
	"github.com/goodtune/rovas-connector/internal/submit"
	"github.com/goodtune/rovas-connector/internal/timetrack"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive tracking session",
	Long: `Track editing time in the foreground and submit it from the terminal.
Type 'help' at the prompt for the available commands.`,
	RunE: runInteractive,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, err := loadUserConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// The terminal belongs to the prompt; only warnings go to stderr
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	lines := readLines(cmd.InOrStdin())
	prompter := newTerminalPrompter(lines, out)

	a, err := newApp(ctx, cfg, prompter, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	if _, err := pruneHistory(ctx, a.store.Submissions(), cfg.Storage.Retention(), logger); err != nil {
		logger.Warn().Err(err).Msg("History pruning failed")
	}

	if len(cfg.Tracking.WatchPaths) > 0 {
		watcher, err := activity.NewWatcher(cfg.Tracking.WatchPaths, cfg.Tracking.WatchIgnore, a.acc, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize activity watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start activity watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	sh := newShell(a.session, prompter, out)
	if !applyRestorePrevious(a.session, cfg.Tracking.RestorePrevious) {
		sh.askRestorePrevious(ctx)
	}

	color.New(color.FgCyan, color.Bold).Fprintf(out, "rovas %s, tracking started. Type 'help' for commands.\n", version)
	sh.loop(ctx)

	if err := persist(a, logger); err != nil {
		return err
	}
	return nil
}

// loadUserConfig loads the configuration of an interactive session. Its file and local
// storage live in the user's config directory unless --config names another file.
func loadUserConfig(path string, explicit bool) (*config.Config, error) {
	dir, err := config.UserDir()
	if err != nil {
		return config.Load(path)
	}
	if !explicit {
		path = filepath.Join(dir, "config.yaml")
	}
	return config.LoadUser(path, dir)
}

// readLines feeds stdin to a channel from a single goroutine so the prompt loop and
// the submission prompts never read concurrently.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type shell struct {
	session  *session.Session
	prompter *terminalPrompter
	out      io.Writer
}

func newShell(sess *session.Session, prompter *terminalPrompter, out io.Writer) *shell {
	return &shell{session: sess, prompter: prompter, out: out}
}

func (sh *shell) askRestorePrevious(ctx context.Context) {
	minutes := sh.session.PreviousMinutes()
	question := fmt.Sprintf("%s of unreported time is left from the last session. Add it?", formatMinutes(minutes))
	sh.session.RestorePrevious(sh.prompter.confirm(ctx, question))
}

func (sh *shell) loop(ctx context.Context) {
	red := color.New(color.FgRed)
	for {
		total := sh.session.Accumulator().Total()
		fmt.Fprintf(sh.out, "[%s] > ", formatMinutes(timetrack.SecondsToMinutes(total)))

		var line string
		select {
		case l, ok := <-sh.prompter.lines:
			if !ok {
				fmt.Fprintln(sh.out)
				return
			}
			line = l
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return
		}

		quit, err := sh.execute(ctx, line)
		if err != nil {
			red.Fprintln(sh.out, err)
		}
		if quit {
			return
		}
	}
}

// execute runs one command line. It reports true when the session should end.
func (sh *shell) execute(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "submit":
		var ref *submit.ExternalReference
		if len(fields) > 1 {
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || id <= 0 {
				return false, fmt.Errorf("invalid reference id %q", fields[1])
			}
			ref = &submit.ExternalReference{ID: id}
		}
		return false, sh.submit(ctx, ref)

	case "reset":
		var minutes int64
		if len(fields) > 1 {
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || n < 0 {
				return false, fmt.Errorf("invalid number of minutes %q", fields[1])
			}
			minutes = n
		}
		sh.session.Reset(minutes)
		fmt.Fprintf(sh.out, "Timer set to %s\n", formatMinutes(minutes))

	case "touch":
		sh.session.Accumulator().TrackChangeNow()

	case "status":
		sh.printStatus()

	case "help":
		fmt.Fprintln(sh.out, "  submit [ref-id]   report the tracked time, optionally for a changeset")
		fmt.Fprintln(sh.out, "  reset [minutes]   set the timer (default 0)")
		fmt.Fprintln(sh.out, "  touch             record editing activity now")
		fmt.Fprintln(sh.out, "  status            show the session state")
		fmt.Fprintln(sh.out, "  quit              save the tracked time and exit")

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q, type 'help' for commands", fields[0])
	}
	return false, nil
}

func (sh *shell) submit(ctx context.Context, ref *submit.ExternalReference) error {
	yellow := color.New(color.FgYellow)

	sub, err := sh.session.Submit(ctx, ref)
	switch {
	case errors.Is(err, session.ErrPaidEditor):
		yellow.Fprintln(sh.out, "Reporting is disabled for paid editors; the timer was reset")
		return nil
	case errors.Is(err, session.ErrNothingToReport):
		yellow.Fprintln(sh.out, "Nothing to report yet")
		return nil
	case err != nil:
		return err
	}

	select {
	case <-sub.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	res := sub.Result()
	switch {
	case res.Completed:
		fmt.Fprintf(sh.out, "Reported %s\n", formatMinutes(res.Minutes))
	case res.State == submit.StateDone:
		yellow.Fprintf(sh.out, "Reported %s, but the usage fee was not recorded\n", formatMinutes(res.Minutes))
	default:
		yellow.Fprintln(sh.out, "Submission aborted; the tracked time was kept")
	}
	return nil
}

func (sh *shell) printStatus() {
	cyan := color.New(color.FgCyan, color.Bold)
	st := sh.session.Status()

	cyan.Fprintln(sh.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(sh.out, "Tracked:    %s (%d s)\n", formatMinutes(st.Minutes), st.Tracking.TotalSeconds)
	if st.Tracking.IntervalOpen {
		fmt.Fprintf(sh.out, "Interval:   %s - %s\n",
			st.Tracking.IntervalStart.Format("15:04:05"), st.Tracking.IntervalEnd.Format("15:04:05"))
	}
	fmt.Fprintf(sh.out, "Tolerance:  %s\n", st.Tracking.Tolerance)
	if st.PreviousMinutes > 0 {
		fmt.Fprintf(sh.out, "Previous:   %s not yet handled\n", formatMinutes(st.PreviousMinutes))
	}
	if !st.UnpaidEditor {
		fmt.Fprintln(sh.out, "Reporting:  disabled (paid editor)")
	}
	if st.LastResult != nil {
		fmt.Fprintf(sh.out, "Last:       %s, %s\n", st.LastResult.State, formatMinutes(st.LastResult.Minutes))
	}
	cyan.Fprintln(sh.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// formatMinutes renders minutes as "1h 05m" or "5m".
func formatMinutes(minutes int64) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}
