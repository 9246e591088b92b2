package submit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/rovas-connector/internal/rovas"
)

// Continuation tells the pipeline what to do after a failed step.
type Continuation int

const (
	RetryWithNewCredentials Continuation = iota
	RetryImmediately
	Abort
	ContinueToNextStep
)

func (c Continuation) String() string {
	switch c {
	case RetryWithNewCredentials:
		return "retry_with_new_credentials"
	case RetryImmediately:
		return "retry_immediately"
	case Abort:
		return "abort"
	case ContinueToNextStep:
		return "continue"
	}
	return fmt.Sprintf("continuation(%d)", int(c))
}

// ErrorCode is a classified step failure. Code is nil for transport failures.
type ErrorCode struct {
	Code           *int64
	Message        string
	Continuation   Continuation
	ReportAsDefect bool
}

func (e ErrorCode) String() string {
	if e.Code != nil && !strings.HasPrefix(e.Message, "unknown error") {
		return fmt.Sprintf("%s (code=%d)", e.Message, *e.Code)
	}
	return e.Message
}

type knownCode struct {
	message      string
	continuation Continuation
}

var knownCodes = map[rovas.Endpoint]map[int64]knownCode{
	rovas.VerifyAuthorization: {
		0:  {"The user could not be made a shareholder of the project.", RetryWithNewCredentials},
		-1: {"The project was not found.", RetryWithNewCredentials},
		-2: {"No user was found for the API key and token.", RetryWithNewCredentials},
	},
	rovas.CreateWorkRecord: {
		0:  {"The work report was created but not published because no verifiers are available.", ContinueToNextStep},
		-1: {"The user is not a shareholder of the project.", Abort},
		-2: {"The work started before the user registered on Rovas.", Abort},
		-3: {"The work report was created but no verifiers were invited because the user has outstanding verifications.", ContinueToNextStep},
	},
	rovas.CreateUsageRecord: {},
}

// ClassifyResult maps a result code returned by endpoint. Positive results are successes
// and yield ok=false.
func ClassifyResult(endpoint rovas.Endpoint, result int64) (ErrorCode, bool) {
	if result > 0 {
		return ErrorCode{}, false
	}

	code := result
	if known, found := knownCodes[endpoint][result]; found {
		return ErrorCode{Code: &code, Message: known.message, Continuation: known.continuation}, true
	}
	return ErrorCode{
		Code:         &code,
		Message:      fmt.Sprintf("unknown error (code=%d)", result),
		Continuation: RetryImmediately,
	}, true
}

// ClassifyError maps a transport failure.
func ClassifyError(err error) ErrorCode {
	var apiErr *rovas.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case rovas.KindUnauthorized:
			return ErrorCode{Message: apiErr.Message(), Continuation: RetryWithNewCredentials}
		case rovas.KindDecodeResponse:
			return ErrorCode{Message: apiErr.Message(), Continuation: RetryImmediately, ReportAsDefect: true}
		default:
			return ErrorCode{Message: apiErr.Message(), Continuation: RetryImmediately}
		}
	}
	return ErrorCode{Message: err.Error(), Continuation: RetryImmediately}
}

// classify turns the outcome of a Post into an ErrorCode. On success failed is false and
// id holds the returned integer.
func classify(endpoint rovas.Endpoint, value rovas.Value, err error) (id int64, code ErrorCode, failed bool) {
	if err != nil {
		return 0, ClassifyError(err), true
	}
	n, ok := value.Int()
	if !ok {
		return 0, ErrorCode{
			Message:        "The server response could not be understood.",
			Continuation:   RetryImmediately,
			ReportAsDefect: true,
		}, true
	}
	code, failed = ClassifyResult(endpoint, n)
	return n, code, failed
}
