package submit

import (
	"errors"
	"testing"

	"github.com/goodtune/rovas-connector/internal/rovas"
)

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		name         string
		endpoint     rovas.Endpoint
		result       int64
		wantFailed   bool
		continuation Continuation
		message      string
	}{
		{name: "verify success", endpoint: rovas.VerifyAuthorization, result: 1},
		{name: "verify not shareholder", endpoint: rovas.VerifyAuthorization, result: 0, wantFailed: true, continuation: RetryWithNewCredentials},
		{name: "verify project missing", endpoint: rovas.VerifyAuthorization, result: -1, wantFailed: true, continuation: RetryWithNewCredentials},
		{name: "verify bad key", endpoint: rovas.VerifyAuthorization, result: -2, wantFailed: true, continuation: RetryWithNewCredentials},
		{name: "verify unknown", endpoint: rovas.VerifyAuthorization, result: -7, wantFailed: true, continuation: RetryImmediately, message: "unknown error (code=-7)"},
		{name: "work record success", endpoint: rovas.CreateWorkRecord, result: 12345},
		{name: "work record unpublished", endpoint: rovas.CreateWorkRecord, result: 0, wantFailed: true, continuation: ContinueToNextStep},
		{name: "work record not shareholder", endpoint: rovas.CreateWorkRecord, result: -1, wantFailed: true, continuation: Abort},
		{name: "work record too early", endpoint: rovas.CreateWorkRecord, result: -2, wantFailed: true, continuation: Abort},
		{name: "work record no verifiers", endpoint: rovas.CreateWorkRecord, result: -3, wantFailed: true, continuation: ContinueToNextStep},
		{name: "usage record success", endpoint: rovas.CreateUsageRecord, result: 9},
		{name: "usage record zero", endpoint: rovas.CreateUsageRecord, result: 0, wantFailed: true, continuation: RetryImmediately, message: "unknown error (code=0)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, failed := ClassifyResult(tt.endpoint, tt.result)
			if failed != tt.wantFailed {
				t.Fatalf("failed = %v, want %v", failed, tt.wantFailed)
			}
			if !failed {
				return
			}
			if code.Code == nil || *code.Code != tt.result {
				t.Errorf("code = %v, want %d", code.Code, tt.result)
			}
			if code.Continuation != tt.continuation {
				t.Errorf("continuation = %v, want %v", code.Continuation, tt.continuation)
			}
			if tt.message != "" && code.Message != tt.message {
				t.Errorf("message = %q, want %q", code.Message, tt.message)
			}
			if code.ReportAsDefect {
				t.Error("result codes are never defects")
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		continuation Continuation
		defect       bool
	}{
		{name: "unauthorized", err: &rovas.APIError{Kind: rovas.KindUnauthorized, Status: 401}, continuation: RetryWithNewCredentials},
		{name: "decode", err: &rovas.APIError{Kind: rovas.KindDecodeResponse}, continuation: RetryImmediately, defect: true},
		{name: "connection", err: &rovas.APIError{Kind: rovas.KindConnectionFailure}, continuation: RetryImmediately},
		{name: "plain error", err: errors.New("boom"), continuation: RetryImmediately},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := ClassifyError(tt.err)
			if code.Code != nil {
				t.Errorf("transport failures carry no code, got %d", *code.Code)
			}
			if code.Continuation != tt.continuation {
				t.Errorf("continuation = %v, want %v", code.Continuation, tt.continuation)
			}
			if code.ReportAsDefect != tt.defect {
				t.Errorf("defect = %v, want %v", code.ReportAsDefect, tt.defect)
			}
			if code.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestClassifyUndecodableValue(t *testing.T) {
	_, code, failed := classify(rovas.VerifyAuthorization, rovas.StringValue("abc"), nil)
	if !failed {
		t.Fatal("expected failure")
	}
	if !code.ReportAsDefect || code.Continuation != RetryImmediately {
		t.Errorf("code = %+v", code)
	}

	id, _, failed := classify(rovas.CreateWorkRecord, rovas.NumberValue("42.0"), nil)
	if failed || id != 42 {
		t.Errorf("classify(42.0) = %d, %v", id, failed)
	}
}

func TestErrorCodeString(t *testing.T) {
	code, _ := ClassifyResult(rovas.VerifyAuthorization, -2)
	if got := code.String(); got != "No user was found for the API key and token. (code=-2)" {
		t.Errorf("String() = %q", got)
	}
	plain := ErrorCode{Message: "offline"}
	if plain.String() != "offline" {
		t.Errorf("String() = %q", plain.String())
	}
}
