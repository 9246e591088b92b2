package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/submit"
)

// terminalPrompter asks the user at the terminal. It shares the line channel with the
// interactive loop, which stays blocked while a submission runs.
type terminalPrompter struct {
	lines <-chan string
	out   io.Writer
}

var _ submit.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter(lines <-chan string, out io.Writer) *terminalPrompter {
	return &terminalPrompter{lines: lines, out: out}
}

func (p *terminalPrompter) ask(ctx context.Context, question string) (string, bool) {
	fmt.Fprint(p.out, question)
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", false
		}
		return strings.TrimSpace(line), true
	case <-ctx.Done():
		return "", false
	}
}

func (p *terminalPrompter) confirm(ctx context.Context, question string) bool {
	answer, ok := p.ask(ctx, question+" [y/N] ")
	if !ok {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

func (p *terminalPrompter) PromptCredentials(ctx context.Context, current *rovas.Credentials) (rovas.Credentials, bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Fprintln(p.out)
	cyan.Fprintln(p.out, "Rovas credentials")
	if current != nil {
		fmt.Fprintf(p.out, "Current API key %s, project %d. Press enter to keep a value.\n", current.Masked(), current.ProjectID())
	} else {
		fmt.Fprintln(p.out, "Find your API key and token on your Rovas profile page.")
	}

	key, ok := p.ask(ctx, "API key: ")
	if !ok {
		return rovas.Credentials{}, false
	}
	token, ok := p.ask(ctx, "API token: ")
	if !ok {
		return rovas.Credentials{}, false
	}
	project, ok := p.ask(ctx, "Project id: ")
	if !ok {
		return rovas.Credentials{}, false
	}

	var projectID int64
	if current != nil {
		if key == "" {
			key = current.APIKey()
		}
		if token == "" {
			token = current.APIToken()
		}
		projectID = current.ProjectID()
	}
	if project != "" {
		n, err := strconv.ParseInt(project, 10, 64)
		if err != nil {
			red.Fprintf(p.out, "Project id %q is not a number\n", project)
			return rovas.Credentials{}, false
		}
		projectID = n
	}

	creds, valid := rovas.NewCredentials(key, token, projectID)
	if !valid {
		red.Fprintf(p.out, "API key and token are required and the project id must be at least %d\n", rovas.MinProjectID)
		return rovas.Credentials{}, false
	}
	return creds, true
}

func (p *terminalPrompter) ConfirmRetry(ctx context.Context, code submit.ErrorCode) bool {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(p.out, "✗ %s\n", code)
	return p.confirm(ctx, "Try again?")
}

func (p *terminalPrompter) ShowError(code submit.ErrorCode) {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	red.Fprintf(p.out, "✗ %s\n", code)
	if code.Continuation == submit.ContinueToNextStep {
		yellow.Fprintln(p.out, "  Continuing with the next step")
	}
	if code.ReportAsDefect {
		yellow.Fprintln(p.out, "  This looks like a bug, please report it")
	}
}

func (p *terminalPrompter) ShowSuccess(workRecordID int64, workRecordURL string) {
	green := color.New(color.FgGreen, color.Bold)
	green.Fprintf(p.out, "✓ Work report %d created\n", workRecordID)
	if workRecordURL != "" {
		fmt.Fprintf(p.out, "  %s\n", workRecordURL)
	}
}
