package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/goodtune/rovas-connector/internal/submit"
	"github.com/goodtune/rovas-connector/internal/timetrack"
	"github.com/rs/zerolog"
)

var (
	// ErrPaidEditor is returned by Submit when reporting is switched off. The tracked
	// time has been reset.
	ErrPaidEditor = errors.New("session: reporting is disabled for paid editors")

	// ErrNothingToReport is returned by Submit when less than one minute was tracked.
	ErrNothingToReport = errors.New("session: no tracked time to report")

	// ErrSubmissionInProgress is returned by Submit while another submission runs.
	ErrSubmissionInProgress = errors.New("session: a submission is already running")
)

// snapshotTimeout bounds the tracked-time write after a submission finishes.
const snapshotTimeout = 5 * time.Second

// Submitter starts submissions.
type Submitter interface {
	Start(ctx context.Context, req submit.Request) *submit.Submission
}

// Options configure a Session.
type Options struct {
	Accumulator  *timetrack.Accumulator
	Submitter    Submitter
	TrackedTime  storage.TrackedTimeStore
	UnpaidEditor bool
}

// Session ties the time accumulator to the submission pipeline for one editing session.
type Session struct {
	acc         *timetrack.Accumulator
	submitter   Submitter
	trackedTime storage.TrackedTimeStore
	logger      zerolog.Logger

	mu           sync.Mutex
	unpaidEditor  bool
	active        *submit.Submission
	activeMinutes int64
	last          *submit.Submission
}

// New creates a session. Starting a session counts as one activity event.
func New(opts Options, logger zerolog.Logger) *Session {
	s := &Session{
		acc:          opts.Accumulator,
		submitter:    opts.Submitter,
		trackedTime:  opts.TrackedTime,
		unpaidEditor: opts.UnpaidEditor,
		logger:       logger.With().Str("component", "session").Logger(),
	}
	s.acc.TrackChangeNow()
	return s
}

// Accumulator returns the session's time accumulator.
func (s *Session) Accumulator() *timetrack.Accumulator { return s.acc }

// SetUnpaidEditor switches reporting on or off.
func (s *Session) SetUnpaidEditor(unpaid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unpaidEditor = unpaid
}

// Submit commits the tracked time and starts reporting it. ref may be nil.
func (s *Session) Submit(ctx context.Context, ref *submit.ExternalReference) (*submit.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		select {
		case <-s.active.Done():
			s.active = nil
		default:
			return nil, ErrSubmissionInProgress
		}
	}

	if !s.unpaidEditor {
		s.acc.SetCommittedSeconds(0)
		s.logger.Info().Msg("Reporting disabled for paid editors, tracked time reset")
		return nil, ErrPaidEditor
	}

	seconds := s.acc.CommitNow()
	minutes := timetrack.SecondsToMinutes(seconds)
	if minutes <= 0 {
		return nil, ErrNothingToReport
	}

	req := submit.Request{Minutes: minutes, Reference: ref}
	sub := s.submitter.Start(ctx, req)
	s.active = sub
	s.activeMinutes = minutes
	s.last = sub
	go s.afterSubmission(sub)

	event := s.logger.Info().Str("submission_id", sub.ID()).Int64("minutes", minutes)
	if ref != nil {
		event = event.Int64("reference_id", ref.ID)
	}
	event.Msg("Submission started")
	return sub, nil
}

// Active returns the running submission, or nil.
func (s *Session) Active() *submit.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	select {
	case <-s.active.Done():
		s.active = nil
		return nil
	default:
		return s.active
	}
}

// Reset sets the tracked time to minutes.
func (s *Session) Reset(minutes int64) {
	if minutes < 0 {
		minutes = 0
	}
	if minutes > timetrack.MaxMinutes {
		minutes = timetrack.MaxMinutes
	}
	s.acc.SetCommittedSeconds(minutes * 60)
	s.logger.Info().Int64("minutes", minutes).Msg("Tracked time reset")
}

// PreviousMinutes returns the unhandled time from the previous session in minutes.
func (s *Session) PreviousMinutes() int64 {
	return timetrack.SecondsToMinutes(s.acc.PreviouslyTrackedSeconds())
}

// RestorePrevious adds the previous session's time when add is true, and discards it
// otherwise.
func (s *Session) RestorePrevious(add bool) {
	s.acc.HandlePreviouslyTrackedSeconds(add)
}

// Persist commits the open interval and stores the unreported time, including a
// previous snapshot that was never handled. A running submission is waited for until
// ctx expires; after that its minutes are left out of the stored time.
func (s *Session) Persist(ctx context.Context) error {
	if s.trackedTime == nil {
		return nil
	}

	seconds := s.acc.CommitNow()
	if sub, minutes := s.running(); sub != nil {
		select {
		case <-sub.Done():
			seconds = s.acc.CommitNow()
		case <-ctx.Done():
			seconds = timetrack.ClampSeconds(seconds - minutes*60)
			s.logger.Warn().
				Str("submission_id", sub.ID()).
				Int64("minutes", minutes).
				Msg("Submission still running, its minutes are not persisted")
			ctx = context.WithoutCancel(ctx)
		}
	}

	total := timetrack.ClampSeconds(seconds + s.acc.PreviouslyTrackedSeconds())
	if err := s.trackedTime.Set(ctx, total); err != nil {
		return fmt.Errorf("failed to persist tracked time: %w", err)
	}
	s.logger.Info().Int64("seconds", total).Msg("Persisted tracked time")
	return nil
}

// running returns the unfinished submission and the minutes it reports.
func (s *Session) running() (*submit.Submission, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, 0
	}
	return s.active, s.activeMinutes
}

// afterSubmission rewrites the stored time once a submission has handed its minutes
// over, so a snapshot taken while it ran cannot offer them again.
func (s *Session) afterSubmission(sub *submit.Submission) {
	res := sub.Result()
	if res.State != submit.StateDone || s.trackedTime == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	total := timetrack.ClampSeconds(s.acc.Total() + s.acc.PreviouslyTrackedSeconds())
	if err := s.trackedTime.Set(ctx, total); err != nil {
		s.logger.Error().Err(err).Str("submission_id", sub.ID()).Msg("Failed to store tracked time after submission")
		return
	}
	s.logger.Debug().Int64("seconds", total).Msg("Stored tracked time after submission")
}

// Status is a snapshot of the session.
type Status struct {
	Tracking          timetrack.Status
	Minutes           int64
	PreviousMinutes   int64
	UnpaidEditor      bool
	SubmissionRunning bool
	SubmissionID      string
	LastResult        *submit.Result
}

// Status returns the current session state.
func (s *Session) Status() Status {
	tracking := s.acc.Status()
	st := Status{
		Tracking:        tracking,
		Minutes:         timetrack.SecondsToMinutes(tracking.TotalSeconds),
		PreviousMinutes: s.PreviousMinutes(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.UnpaidEditor = s.unpaidEditor
	if s.last != nil {
		st.SubmissionID = s.last.ID()
		select {
		case <-s.last.Done():
			res := s.last.Result()
			st.LastResult = &res
		default:
			st.SubmissionRunning = true
		}
	}
	return st
}
