package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/submit"
)

func feed(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

func TestPromptCredentials(t *testing.T) {
	current, _ := rovas.NewCredentials("old-key-1234", "old-token", 42)

	tests := []struct {
		name    string
		current *rovas.Credentials
		lines   []string
		ok      bool
		key     string
		token   string
		project int64
	}{
		{name: "new", lines: []string{"k", "t", "7"}, ok: true, key: "k", token: "t", project: 7},
		{name: "keep current", current: &current, lines: []string{"", "", ""}, ok: true, key: "old-key-1234", token: "old-token", project: 42},
		{name: "replace token", current: &current, lines: []string{"", "new-token", "9"}, ok: true, key: "old-key-1234", token: "new-token", project: 9},
		{name: "missing token", lines: []string{"k", "", "7"}},
		{name: "project below minimum", lines: []string{"k", "t", "1"}},
		{name: "project not a number", lines: []string{"k", "t", "seven"}},
		{name: "input closed", lines: []string{"k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			p := newTerminalPrompter(feed(tt.lines...), out)

			creds, ok := p.PromptCredentials(context.Background(), tt.current)
			if ok != tt.ok {
				t.Fatalf("PromptCredentials() ok = %v, want %v (%s)", ok, tt.ok, out.String())
			}
			if !ok {
				return
			}
			if creds.APIKey() != tt.key || creds.APIToken() != tt.token || creds.ProjectID() != tt.project {
				t.Errorf("credentials = %s/%s/%d", creds.APIKey(), creds.APIToken(), creds.ProjectID())
			}
		})
	}
}

func TestPromptCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTerminalPrompter(make(chan string), &bytes.Buffer{})
	if _, ok := p.PromptCredentials(ctx, nil); ok {
		t.Error("PromptCredentials() succeeded on a cancelled context")
	}
	if p.ConfirmRetry(ctx, submit.ErrorCode{Message: "nope"}) {
		t.Error("ConfirmRetry() confirmed on a cancelled context")
	}
}

func TestConfirmRetry(t *testing.T) {
	tests := map[string]bool{"y": true, "YES": true, "n": false, "": false, "maybe": false}
	for answer, want := range tests {
		out := &bytes.Buffer{}
		p := newTerminalPrompter(feed(answer), out)
		if got := p.ConfirmRetry(context.Background(), submit.ErrorCode{Message: "The project was not found."}); got != want {
			t.Errorf("ConfirmRetry(%q) = %v, want %v", answer, got, want)
		}
		if !strings.Contains(out.String(), "The project was not found.") {
			t.Errorf("ConfirmRetry did not show the error: %q", out.String())
		}
	}
}

func TestShowError(t *testing.T) {
	out := &bytes.Buffer{}
	p := newTerminalPrompter(feed(), out)

	p.ShowError(submit.ErrorCode{Message: "created without verifiers", Continuation: submit.ContinueToNextStep})
	p.ShowError(submit.ErrorCode{Message: "garbled", ReportAsDefect: true})

	for _, want := range []string{"created without verifiers", "Continuing with the next step", "garbled", "please report it"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
