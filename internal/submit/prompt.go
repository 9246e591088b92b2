package submit

import (
	"context"

	"github.com/goodtune/rovas-connector/internal/rovas"
)

// Prompter is the user-facing side of a submission. Calls are made from the
// submission's goroutine, one at a time.
type Prompter interface {
	// PromptCredentials asks for new credentials. current is nil when none are stored.
	// Returning false declines and cancels the submission.
	PromptCredentials(ctx context.Context, current *rovas.Credentials) (rovas.Credentials, bool)

	// ConfirmRetry asks whether a failed authorization check should be retried.
	ConfirmRetry(ctx context.Context, code ErrorCode) bool

	// ShowError reports a failure the pipeline will not retry.
	ShowError(code ErrorCode)

	// ShowSuccess reports the completed submission and the work report address.
	ShowSuccess(workRecordID int64, workRecordURL string)
}
