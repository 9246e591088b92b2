package submit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/rovas-connector/internal/metrics"
	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/goodtune/rovas-connector/internal/timetrack"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Report defaults.
const (
	DefaultMaxRetries         = 5
	DefaultClassification     = 1645
	DefaultFeeRate            = 0.03
	DefaultConnectorProjectID = 35259
	DevConnectorProjectID     = 24682
	DefaultProofURL           = "https://overpass-api.de/achavi/?changeset=%d"
	DefaultDescription        = "Map edits reported with the Rovas connector"
	DefaultActivityName       = "Editing OpenStreetMap"
	DefaultConnectorName      = "Rovas connector"

	accessTokenBytes = 12
	publishStatus    = 1
)

// State is a step of the submission state machine.
type State int

const (
	StateResolveCredentials State = iota
	StateVerifyAuthorization
	StateCreateWorkRecord
	StateCreateUsageRecord
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateResolveCredentials:
		return "resolve_credentials"
	case StateVerifyAuthorization:
		return "verify_authorization"
	case StateCreateWorkRecord:
		return "create_work_record"
	case StateCreateUsageRecord:
		return "create_usage_record"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ExternalReference identifies the artifact the reported work produced, such as a
// changeset. Its id fills the proof URL and its creation time the start date.
type ExternalReference struct {
	ID        int64
	CreatedAt time.Time
}

// Request starts a submission.
type Request struct {
	Minutes   int64
	Reference *ExternalReference
}

// Result describes a finished submission.
type Result struct {
	ID            string
	State         State
	Minutes       int64
	ReferenceID   int64
	WorkRecordID  int64
	UsageRecordID int64
	WorkRecordURL string
	// Completed is true once the usage record was created.
	Completed  bool
	Errors     []ErrorCode
	RetryDepth int
	StartedAt  time.Time
	FinishedAt time.Time
}

// LastError returns the most recent failure, or nil.
func (r Result) LastError() *ErrorCode {
	if len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[len(r.Errors)-1]
}

// Settings hold the report contents and retry policy.
type Settings struct {
	MaxRetries         int
	Classification     int
	Description        string
	ActivityName       string
	ProofURL           string // one %d verb for the reference id
	FeeRate            float64
	ConnectorProjectID int64
	ConnectorName      string
}

// DefaultSettings returns the production report settings.
func DefaultSettings() Settings {
	return Settings{
		MaxRetries:         DefaultMaxRetries,
		Classification:     DefaultClassification,
		Description:        DefaultDescription,
		ActivityName:       DefaultActivityName,
		ProofURL:           DefaultProofURL,
		FeeRate:            DefaultFeeRate,
		ConnectorProjectID: DefaultConnectorProjectID,
		ConnectorName:      DefaultConnectorName,
	}
}

// Resetter is the part of the time accumulator a submission touches.
type Resetter interface {
	SetCommittedSeconds(n int64)
}

// Options wire a Pipeline to its collaborators.
type Options struct {
	Transport   rovas.Transport
	Credentials storage.CredentialStore
	History     storage.SubmissionStore // optional
	Tracker     Resetter
	Prompter    Prompter
	Settings    Settings
	NodeURL     func(id int64) string // optional
	Clock       timetrack.Clock
}

// Pipeline reports tracked minutes to Rovas in three steps: verify the user is a
// shareholder, create a work report, then charge the connector's usage fee.
type Pipeline struct {
	transport   rovas.Transport
	credentials storage.CredentialStore
	history     storage.SubmissionStore
	tracker     Resetter
	prompter    Prompter
	settings    Settings
	nodeURL     func(int64) string
	clock       timetrack.Clock
	logger      zerolog.Logger
}

// NewPipeline creates a submission pipeline.
func NewPipeline(opts Options, logger zerolog.Logger) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = timetrack.RealClock{}
	}
	settings := opts.Settings
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}

	return &Pipeline{
		transport:   opts.Transport,
		credentials: opts.Credentials,
		history:     opts.History,
		tracker:     opts.Tracker,
		prompter:    opts.Prompter,
		settings:    settings,
		nodeURL:     opts.NodeURL,
		clock:       clock,
		logger:      logger.With().Str("component", "submission").Logger(),
	}
}

// Submission is a running submission.
type Submission struct {
	id     string
	done   chan struct{}
	result Result
}

// ID returns the submission id.
func (s *Submission) ID() string { return s.id }

// Done is closed when the submission has finished.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Result blocks until the submission finishes and returns its outcome.
func (s *Submission) Result() Result {
	<-s.done
	return s.result
}

// Start runs a submission on its own goroutine. Cancelling ctx stops the submission at
// the next credential or authorization step; once the work report step has started the
// usage record is always attempted.
func (p *Pipeline) Start(ctx context.Context, req Request) *Submission {
	sub := &Submission{id: uuid.NewString(), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		sub.result = p.run(ctx, sub.id, req)
	}()
	return sub
}

// Run runs a submission and waits for it to finish.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	return p.Start(ctx, req).Result()
}

// submissionContext is the state owned by one submission's goroutine.
type submissionContext struct {
	p           *Pipeline
	ctx         context.Context
	cancel      context.CancelFunc
	logger      zerolog.Logger
	req         Request
	credentials rovas.Credentials
	forcePrompt bool
	retryDepth  int
	result      Result
}

func (p *Pipeline) run(ctx context.Context, id string, req Request) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sc := &submissionContext{
		p:      p,
		ctx:    ctx,
		cancel: cancel,
		logger: p.logger.With().Str("submission_id", id).Logger(),
		req:    req,
		result: Result{ID: id, Minutes: req.Minutes, StartedAt: p.clock.Now()},
	}
	if req.Reference != nil {
		sc.result.ReferenceID = req.Reference.ID
	}
	sc.logger.Info().Int64("minutes", req.Minutes).Msg("Starting submission")

	state := StateResolveCredentials
	for state != StateDone && state != StateAborted {
		sc.logger.Debug().Stringer("state", state).Msg("Running step")
		switch state {
		case StateResolveCredentials:
			state = sc.resolveCredentials()
		case StateVerifyAuthorization:
			state = sc.verifyAuthorization()
		case StateCreateWorkRecord:
			state = sc.createWorkRecord()
		case StateCreateUsageRecord:
			state = sc.createUsageRecord()
		}
	}

	sc.result.State = state
	sc.result.RetryDepth = sc.retryDepth
	sc.result.FinishedAt = p.clock.Now()
	p.finish(sc.result, sc.logger)
	return sc.result
}

func (p *Pipeline) finish(res Result, logger zerolog.Logger) {
	metrics.SubmissionsTotal.WithLabelValues(res.State.String()).Inc()
	if res.Completed {
		metrics.ReportedMinutes.Add(float64(res.Minutes))
	}

	var event *zerolog.Event
	if res.State == StateAborted {
		event = logger.Warn()
	} else {
		event = logger.Info()
	}
	event.
		Stringer("state", res.State).
		Bool("completed", res.Completed).
		Int64("work_record_id", res.WorkRecordID).
		Int("retries", res.RetryDepth).
		Msg("Submission finished")

	if p.history == nil {
		return
	}

	record := storage.SubmissionRecord{
		ID:            res.ID,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		Minutes:       res.Minutes,
		State:         res.State.String(),
		Completed:     res.Completed,
		WorkRecordID:  res.WorkRecordID,
		UsageRecordID: res.UsageRecordID,
		ReferenceID:   res.ReferenceID,
	}
	if last := res.LastError(); last != nil {
		record.Error = last.String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.history.Record(ctx, record); err != nil {
		logger.Error().Err(err).Msg("Failed to record submission history")
	}
}

func (sc *submissionContext) fail(step rovas.Endpoint, code ErrorCode) {
	sc.result.Errors = append(sc.result.Errors, code)

	var event *zerolog.Event
	if code.ReportAsDefect {
		event = sc.logger.Error().Bool("report_as_bug", true)
	} else {
		event = sc.logger.Warn()
	}
	if code.Code != nil {
		event = event.Int64("code", *code.Code)
	}
	event.
		Str("endpoint", step.String()).
		Stringer("continuation", code.Continuation).
		Msg(code.Message)
}

func (sc *submissionContext) resolveCredentials() State {
	if sc.ctx.Err() != nil {
		sc.logger.Info().Msg("Submission cancelled")
		return StateAborted
	}

	creds, stored := sc.p.loadCredentials(sc.ctx, sc.logger)
	if stored && !sc.forcePrompt {
		sc.credentials = creds
		return StateVerifyAuthorization
	}

	var current *rovas.Credentials
	if stored {
		current = &creds
	}
	next, ok := sc.p.prompter.PromptCredentials(sc.ctx, current)
	if !ok || !next.Valid() {
		sc.logger.Info().Msg("Credential prompt declined")
		sc.cancel()
		return StateAborted
	}

	if err := sc.p.saveCredentials(sc.ctx, next); err != nil {
		sc.logger.Error().Err(err).Msg("Failed to save credentials")
	}
	sc.credentials = next
	sc.forcePrompt = false
	return StateVerifyAuthorization
}

func (sc *submissionContext) verifyAuthorization() State {
	value, err := sc.p.transport.Post(sc.ctx, rovas.VerifyAuthorization, sc.credentials,
		rovas.VerifyAuthorizationRequest{ProjectID: sc.credentials.ProjectID()})

	_, code, failed := classify(rovas.VerifyAuthorization, value, err)
	if !failed {
		sc.logger.Info().Int64("project_id", sc.credentials.ProjectID()).Msg("Authorization verified")
		return StateCreateWorkRecord
	}
	sc.fail(rovas.VerifyAuthorization, code)

	switch code.Continuation {
	case RetryWithNewCredentials, RetryImmediately:
		if sc.retryDepth >= sc.p.settings.MaxRetries {
			sc.logger.Warn().Int("retries", sc.retryDepth).Msg("Retry limit reached")
			sc.p.prompter.ShowError(code)
			return StateAborted
		}
		if !sc.p.prompter.ConfirmRetry(sc.ctx, code) {
			sc.cancel()
			return StateAborted
		}
		sc.retryDepth++
		sc.forcePrompt = code.Continuation == RetryWithNewCredentials
		return StateResolveCredentials
	default:
		sc.p.prompter.ShowError(code)
		return StateAborted
	}
}

func (sc *submissionContext) createWorkRecord() State {
	// The report and the usage fee go together; cancellation no longer applies.
	ctx := context.WithoutCancel(sc.ctx)

	token, err := newAccessToken()
	if err != nil {
		code := ErrorCode{Message: fmt.Sprintf("could not generate access token: %v", err), Continuation: Abort}
		sc.fail(rovas.CreateWorkRecord, code)
		sc.p.prompter.ShowError(code)
		return StateAborted
	}

	s := sc.p.settings
	req := rovas.WorkRecordRequest{
		Classification:  s.Classification,
		Description:     s.Description,
		ActivityName:    s.ActivityName,
		Hours:           timetrack.MinutesToHours(sc.req.Minutes),
		WebAddress:      sc.webAddress(),
		ParentProjectID: sc.credentials.ProjectID(),
		DateStarted:     sc.dateStarted(),
		AccessToken:     token,
		PublishStatus:   publishStatus,
	}

	value, err := sc.p.transport.Post(ctx, rovas.CreateWorkRecord, sc.credentials, req)
	id, code, failed := classify(rovas.CreateWorkRecord, value, err)
	if !failed {
		sc.result.WorkRecordID = id
		sc.logger.Info().Int64("work_record_id", id).Msg("Work report created")
		return StateCreateUsageRecord
	}

	sc.fail(rovas.CreateWorkRecord, code)
	sc.p.prompter.ShowError(code)
	if code.Continuation == ContinueToNextStep {
		sc.result.WorkRecordID = 0
		return StateCreateUsageRecord
	}
	return StateAborted
}

func (sc *submissionContext) createUsageRecord() State {
	ctx := context.WithoutCancel(sc.ctx)

	// Tracked time is handed over once the work report exists, whatever the fee outcome.
	sc.p.tracker.SetCommittedSeconds(0)

	s := sc.p.settings
	req := rovas.UsageRecordRequest{
		ProjectID:    s.ConnectorProjectID,
		WorkRecordID: sc.result.WorkRecordID,
		UsageFee:     timetrack.MinutesToChrons(sc.req.Minutes) * s.FeeRate,
		Note:         fmt.Sprintf("%.2f%% fee levied by the '%s' project for using the connector", s.FeeRate*100, s.ConnectorName),
	}

	value, err := sc.p.transport.Post(ctx, rovas.CreateUsageRecord, sc.credentials, req)
	id, code, failed := classify(rovas.CreateUsageRecord, value, err)
	if failed {
		sc.fail(rovas.CreateUsageRecord, code)
		sc.p.prompter.ShowError(code)
		return StateDone
	}

	sc.result.UsageRecordID = id
	sc.result.Completed = true
	if sc.result.WorkRecordID > 0 && sc.p.nodeURL != nil {
		sc.result.WorkRecordURL = sc.p.nodeURL(sc.result.WorkRecordID)
	}
	sc.logger.Info().Int64("usage_record_id", id).Msg("Usage record created")
	sc.p.prompter.ShowSuccess(sc.result.WorkRecordID, sc.result.WorkRecordURL)
	return StateDone
}

func (sc *submissionContext) webAddress() string {
	ref := sc.req.Reference
	if ref == nil || sc.p.settings.ProofURL == "" {
		return ""
	}
	return fmt.Sprintf(sc.p.settings.ProofURL, ref.ID)
}

func (sc *submissionContext) dateStarted() int64 {
	if ref := sc.req.Reference; ref != nil && !ref.CreatedAt.IsZero() {
		return ref.CreatedAt.Unix()
	}
	return sc.p.clock.Now().Unix()
}

func (p *Pipeline) loadCredentials(ctx context.Context, logger zerolog.Logger) (rovas.Credentials, bool) {
	stored, err := p.credentials.Load(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error().Err(err).Msg("Failed to load credentials")
		}
		return rovas.Credentials{}, false
	}
	return rovas.NewCredentials(stored.APIKey, stored.APIToken, stored.ProjectID)
}

func (p *Pipeline) saveCredentials(ctx context.Context, creds rovas.Credentials) error {
	return p.credentials.Save(ctx, storage.StoredCredentials{
		APIKey:    creds.APIKey(),
		APIToken:  creds.APIToken(),
		ProjectID: creds.ProjectID(),
		UpdatedAt: p.clock.Now(),
	})
}

func newAccessToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
