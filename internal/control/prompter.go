package control

import (
	"context"

	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/submit"
	"github.com/rs/zerolog"
)

// Prompter answers pipeline questions without a user. It only ever uses the stored
// credentials and never retries.
type Prompter struct {
	logger zerolog.Logger
}

// NewPrompter creates a non-interactive prompter.
func NewPrompter(logger zerolog.Logger) *Prompter {
	return &Prompter{logger: logger.With().Str("component", "control").Logger()}
}

func (p *Prompter) PromptCredentials(_ context.Context, current *rovas.Credentials) (rovas.Credentials, bool) {
	if current == nil {
		p.logger.Warn().Msg("No Rovas credentials stored, run 'rovas credentials set'")
	} else {
		p.logger.Warn().Str("api_key", current.Masked()).Msg("Stored Rovas credentials were rejected")
	}
	return rovas.Credentials{}, false
}

func (p *Prompter) ConfirmRetry(context.Context, submit.ErrorCode) bool {
	return false
}

func (p *Prompter) ShowError(code submit.ErrorCode) {
	p.logger.Warn().Stringer("continuation", code.Continuation).Msg(code.String())
}

func (p *Prompter) ShowSuccess(workRecordID int64, workRecordURL string) {
	p.logger.Info().Int64("work_record_id", workRecordID).Str("url", workRecordURL).Msg("Work report submitted")
}
