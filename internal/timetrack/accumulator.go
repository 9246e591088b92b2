package timetrack

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/rovas-connector/internal/metrics"
	"github.com/rs/zerolog"
)

// Tolerance bounds accepted from configuration, in seconds.
const (
	DefaultTolerance = 30 * time.Second
	MinTolerance     = 1 * time.Second
	MaxTolerance     = 240 * time.Second
)

// Listener receives the total tracked seconds after every change.
// Listeners run while the accumulator is locked and must not call back into it.
type Listener func(seconds int64)

// SnapshotStore persists the time tracked by a previous session.
type SnapshotStore interface {
	Set(ctx context.Context, seconds int64) error
}

// Config configures an Accumulator.
type Config struct {
	// Tolerance is the inactivity gap still counted as work. Negative values count as zero.
	Tolerance time.Duration
	// PreviouslyTrackedSeconds is the snapshot loaded from the previous session.
	PreviouslyTrackedSeconds int64
	// Store receives the cleared snapshot once it has been handled. Optional.
	Store SnapshotStore
	// Clock defaults to RealClock.
	Clock Clock
}

type listenerEntry struct {
	fn Listener
}

// Accumulator folds a stream of activity timestamps into a total of seconds worked.
// Consecutive events no more than the tolerance apart form one interval; each closed
// interval counts its span plus up to one tolerance of trailing grace.
type Accumulator struct {
	mu sync.Mutex

	committed int64
	open      bool
	first     int64
	last      int64
	tolerance int64

	previous         int64
	previousConsumed bool

	listeners []*listenerEntry
	store     SnapshotStore
	clock     Clock
	logger    zerolog.Logger
}

// NewAccumulator creates an accumulator with nothing committed and no open interval.
func NewAccumulator(cfg Config, logger zerolog.Logger) *Accumulator {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	a := &Accumulator{
		previous: ClampSeconds(cfg.PreviouslyTrackedSeconds),
		store:    cfg.Store,
		clock:    clock,
		logger:   logger.With().Str("component", "time-tracker").Logger(),
	}
	a.tolerance = toleranceSeconds(cfg.Tolerance)
	return a
}

func toleranceSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 0 {
		return 0
	}
	return s
}

// SetTolerance changes the inactivity tolerance for future events.
func (a *Accumulator) SetTolerance(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tolerance = toleranceSeconds(d)
	a.logger.Debug().Int64("tolerance_seconds", a.tolerance).Msg("Inactivity tolerance updated")
}

// Tolerance returns the current inactivity tolerance.
func (a *Accumulator) Tolerance() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.tolerance) * time.Second
}

// TrackChangeNow records an activity event at the current time.
func (a *Accumulator) TrackChangeNow() {
	a.TrackChangeAt(a.clock.Now())
}

// TrackChangeAt records an activity event at t.
func (a *Accumulator) TrackChangeAt(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := t.Unix()
	metrics.ActivityEvents.Inc()

	switch {
	case !a.open:
		a.first, a.last, a.open = ts, ts, true
	case ts >= a.first && ts <= a.last+a.tolerance:
		if ts < a.last {
			a.clockRegression(ts)
		} else {
			a.last = ts
		}
	default:
		if ts < a.first {
			a.clockRegression(ts)
		}
		a.fold(ts)
		a.first, a.last = ts, ts
	}

	a.notify()
}

func (a *Accumulator) clockRegression(ts int64) {
	metrics.ClockRegressions.Inc()
	a.logger.Warn().
		Int64("timestamp", ts).
		Int64("interval_start", a.first).
		Int64("interval_end", a.last).
		Msg("Your clock seems to have been running backwards!")
}

// fold adds the open interval, with grace up to until, to the committed total.
// Caller holds the lock and the interval must be open.
func (a *Accumulator) fold(until int64) {
	span := a.last - a.first
	if span < 0 {
		span = 0
	}
	grace := until - a.last
	if grace < 0 {
		grace = 0
	}
	if grace > a.tolerance {
		grace = a.tolerance
	}
	a.committed = addClamped(addClamped(a.committed, span), grace)
}

// CommitNow closes the open interval as of the current time.
func (a *Accumulator) CommitNow() int64 {
	return a.Commit(a.clock.Now())
}

// Commit closes the open interval as of at and returns the committed seconds.
// Without an open interval the committed total is returned unchanged.
func (a *Accumulator) Commit(at time.Time) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		a.fold(at.Unix())
		a.open = false
		a.logger.Debug().Int64("committed_seconds", a.committed).Msg("Committed tracked time")
	}
	a.notify()
	return a.committed
}

// SetCommittedSeconds replaces the committed total and discards any open interval.
func (a *Accumulator) SetCommittedSeconds(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.committed = ClampSeconds(n)
	a.open = false
	a.logger.Debug().Int64("committed_seconds", a.committed).Msg("Tracked time set")
	a.notify()
}

// PreviouslyTrackedSeconds returns the snapshot from the previous session, or 0 once it
// has been handled or when it rounds to less than one minute.
func (a *Accumulator) PreviouslyTrackedSeconds() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.previousConsumed || SecondsToMinutes(a.previous) <= 0 {
		return 0
	}
	return a.previous
}

// HandlePreviouslyTrackedSeconds applies the previous session's snapshot once. When add is
// true the snapshot is added to the committed total. Later calls do nothing.
func (a *Accumulator) HandlePreviouslyTrackedSeconds(add bool) {
	a.mu.Lock()
	if a.previousConsumed {
		a.mu.Unlock()
		return
	}
	a.previousConsumed = true

	if add {
		a.committed = addClamped(a.committed, a.previous)
		a.logger.Info().Int64("seconds", a.previous).Msg("Added previously tracked time")
		a.notify()
	} else {
		a.logger.Info().Int64("seconds", a.previous).Msg("Discarded previously tracked time")
	}
	store := a.store
	a.mu.Unlock()

	// The store may be remote; activity events must not wait on it.
	if store != nil {
		if err := store.Set(context.Background(), 0); err != nil {
			a.logger.Error().Err(err).Msg("Failed to clear previously tracked time")
		}
	}
}

// AddListener registers fn and immediately calls it with the current total.
// The returned function removes the listener.
func (a *Accumulator) AddListener(fn Listener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := &listenerEntry{fn: fn}
	a.listeners = append(a.listeners, entry)
	fn(a.total())

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, l := range a.listeners {
			if l == entry {
				a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
				return
			}
		}
	}
}

// Total returns the committed seconds plus the span of the open interval.
func (a *Accumulator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total()
}

func (a *Accumulator) total() int64 {
	if !a.open {
		return a.committed
	}
	return addClamped(a.committed, a.last-a.first)
}

// Status is a point-in-time view of the accumulator.
type Status struct {
	CommittedSeconds int64
	TotalSeconds     int64
	IntervalOpen     bool
	IntervalStart    time.Time
	IntervalEnd      time.Time
	Tolerance        time.Duration
}

// Status returns the current state.
func (a *Accumulator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		CommittedSeconds: a.committed,
		TotalSeconds:     a.total(),
		IntervalOpen:     a.open,
		Tolerance:        time.Duration(a.tolerance) * time.Second,
	}
	if a.open {
		st.IntervalStart = time.Unix(a.first, 0)
		st.IntervalEnd = time.Unix(a.last, 0)
	}
	return st
}

// notify runs listeners in registration order. Caller holds the lock.
func (a *Accumulator) notify() {
	total := a.total()
	metrics.TrackedSeconds.Set(float64(total))
	for _, l := range a.listeners {
		l.fn(total)
	}
}
