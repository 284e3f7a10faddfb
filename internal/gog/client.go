// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gog wraps the gog command-line tool, which is the mail source for
// the channel. Every call requests JSON output and is scoped to a single
// Gmail account.
package gog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strings"

	"google.golang.org/api/gmail/v1"
)

// DefaultBinary is the executable looked up on PATH when none is configured.
const DefaultBinary = "gog"

// Runner executes a gog invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

// ExitError is returned when gog exits non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("gog %s exited %d: %s", strings.Join(e.Args, " "), e.Code, e.Stderr)
}

// ExecRunner runs gog as a child process.
type ExecRunner struct {
	Binary string
	Env    []string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = DefaultBinary
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{
				Args:   args,
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("run %s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}

// HistoryPage is one page of mailbox changes.
type HistoryPage struct {
	HistoryID string   `json:"historyId"`
	Messages  []string `json:"messages"`
}

// Client issues gmail subcommands for one account.
type Client struct {
	runner  Runner
	account string
}

// NewClient creates a client bound to the given gog account (an email
// address). An empty account leaves account selection to gog itself.
func NewClient(runner Runner, account string) *Client {
	return &Client{runner: runner, account: strings.TrimSpace(account)}
}

// Account returns the gog account the client is bound to.
func (c *Client) Account() string {
	return c.account
}

// call runs `gmail <args> --account <acct> --json` and decodes stdout into
// out. It reports false when gog printed nothing.
func (c *Client) call(ctx context.Context, out any, args ...string) (bool, error) {
	full := append([]string{"gmail"}, args...)
	if c.account != "" {
		full = append(full, "--account", c.account)
	}
	if !slices.Contains(full, "--json") {
		full = append(full, "--json")
	}

	raw, err := c.runner.Run(ctx, full)
	if err != nil {
		return false, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode gog %s output: %w", args[0], err)
	}
	return true, nil
}

// History lists message ids changed since the given history id.
func (c *Client) History(ctx context.Context, since string, max int) (*HistoryPage, error) {
	var page HistoryPage
	ok, err := c.call(ctx, &page, "history", "--since", since, "--max", fmt.Sprint(max))
	if err != nil {
		return nil, fmt.Errorf("gmail history: %w", err)
	}
	if !ok {
		return &HistoryPage{}, nil
	}
	page.HistoryID = strings.TrimSpace(page.HistoryID)
	return &page, nil
}

// GetMessage fetches a message in full format with the headers the channel
// needs. gog either wraps the message under "message" or inlines its
// fields at top level; both are accepted. It returns nil when gog printed
// nothing.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var raw json.RawMessage
	ok, err := c.call(ctx, &raw,
		"get", messageID,
		"--format", "full",
		"--headers", "From,To,Cc,Subject,Date",
	)
	if err != nil {
		return nil, fmt.Errorf("gmail get %s: %w", messageID, err)
	}
	if !ok {
		return nil, nil
	}

	var wrapped struct {
		Message *gmail.Message `json:"message"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode gmail get %s: %w", messageID, err)
	}
	if wrapped.Message != nil {
		return wrapped.Message, nil
	}

	var msg gmail.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode gmail get %s: %w", messageID, err)
	}
	return &msg, nil
}

// SendRequest describes an outbound message. ThreadID selects reply-all
// mode; otherwise To is required.
type SendRequest struct {
	To       string
	ThreadID string
	Subject  string
	Body     string
	// NoPrompt adds --no-input --force so gog never waits on a terminal.
	NoPrompt bool
}

// Send sends a message. The confirmation printed by gog is discarded.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	args := []string{"send"}
	if req.ThreadID != "" {
		args = append(args, "--thread-id", req.ThreadID, "--reply-all")
	} else {
		args = append(args, "--to", req.To)
	}
	args = append(args, "--subject", req.Subject, "--body", req.Body)
	if req.NoPrompt {
		args = append(args, "--no-input", "--force")
	}

	if _, err := c.call(ctx, nil, args...); err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}

// ThreadSubject returns the Subject header of the first message in a
// thread, or "" when the thread has no messages or no subject.
func (c *Client) ThreadSubject(ctx context.Context, threadID string) (string, error) {
	var resp struct {
		Messages []*gmail.Message `json:"messages"`
		Thread   *gmail.Thread    `json:"thread"`
	}
	ok, err := c.call(ctx, &resp, "thread", "get", threadID)
	if err != nil {
		return "", fmt.Errorf("gmail thread get %s: %w", threadID, err)
	}
	if !ok {
		return "", nil
	}

	messages := resp.Messages
	if len(messages) == 0 && resp.Thread != nil {
		messages = resp.Thread.Messages
	}
	if len(messages) == 0 || messages[0] == nil || messages[0].Payload == nil {
		return "", nil
	}
	for _, h := range messages[0].Payload.Headers {
		if h != nil && strings.EqualFold(h.Name, "Subject") {
			return strings.TrimSpace(h.Value), nil
		}
	}
	return "", nil
}

var threadIDPattern = regexp.MustCompile(`(?i)^[0-9a-f]{10,}$`)

// LooksLikeThreadID reports whether id has the shape of a Gmail thread id.
func LooksLikeThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}
