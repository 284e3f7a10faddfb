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

// Package push wakes the history poller from Gmail Pub/Sub notifications.
// Notification payloads are not read: each non-empty pull acknowledges the
// batch and triggers one regular poll.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/pubsub/v1"
)

const (
	// MaxMessages is the pull batch size.
	MaxMessages = 10
	// DefaultBackoff is the wait after an error or an empty pull.
	DefaultBackoff = 5 * time.Second
)

// ErrIncomplete is returned when the push settings are missing a field.
var ErrIncomplete = errors.New("push enabled but missing projectId/subscription/credentialsPath")

// Config holds one account's push settings.
type Config struct {
	ProjectID       string
	Subscription    string
	CredentialsPath string
}

// Complete reports whether every required field is set.
func (c Config) Complete() bool {
	return strings.TrimSpace(c.ProjectID) != "" &&
		strings.TrimSpace(c.Subscription) != "" &&
		strings.TrimSpace(c.CredentialsPath) != ""
}

// SubscriptionName returns the fully qualified subscription resource name.
func (c Config) SubscriptionName() string {
	sub := strings.TrimSpace(c.Subscription)
	if strings.HasPrefix(sub, "projects/") {
		return sub
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", strings.TrimSpace(c.ProjectID), sub)
}

// TickFunc runs one poll.
type TickFunc func(ctx context.Context)

// Puller is the long-lived pull loop for one account.
type Puller struct {
	accountID    string
	subscription string
	subs         *pubsub.ProjectsSubscriptionsService
	tick         TickFunc
	watcher      *Watcher
	backoff      time.Duration
}

// NewPuller builds a puller. Without extra options the service account
// file at cfg.CredentialsPath supplies tokens for the pubsub scope.
func NewPuller(ctx context.Context, accountID string, cfg Config, tick TickFunc, watcher *Watcher, opts ...option.ClientOption) (*Puller, error) {
	if !cfg.Complete() {
		return nil, ErrIncomplete
	}

	if len(opts) == 0 {
		raw, err := os.ReadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("read push credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, pubsub.PubsubScope)
		if err != nil {
			return nil, fmt.Errorf("parse push credentials: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(creds.TokenSource)}
	}

	svc, err := pubsub.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub service: %w", err)
	}

	return &Puller{
		accountID:    accountID,
		subscription: cfg.SubscriptionName(),
		subs:         svc.Projects.Subscriptions,
		tick:         tick,
		watcher:      watcher,
		backoff:      DefaultBackoff,
	}, nil
}

// Run pulls until ctx is cancelled. The watch command, if any, runs once
// before the first pull and then on its own interval.
func (p *Puller) Run(ctx context.Context) {
	if p.watcher != nil {
		p.watcher.Start(ctx)
		defer p.watcher.Wait()
	}

	slog.Info("gmail push puller started", "account", p.accountID, "subscription", p.subscription)
	defer slog.Info("gmail push puller stopped", "account", p.accountID)

	for ctx.Err() == nil {
		woke, err := p.pullOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("gmail push pull failed", "account", p.accountID, "error", err)
		}
		if err != nil || !woke {
			if !sleep(ctx, p.backoff) {
				return
			}
			continue
		}
		p.tick(ctx)
	}
}

// pullOnce pulls one batch and acknowledges it. It reports whether any
// notifications arrived.
func (p *Puller) pullOnce(ctx context.Context) (bool, error) {
	resp, err := p.subs.Pull(p.subscription, &pubsub.PullRequest{MaxMessages: MaxMessages}).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("pull %s: %w", p.subscription, err)
	}
	if len(resp.ReceivedMessages) == 0 {
		return false, nil
	}

	ackIDs := make([]string, 0, len(resp.ReceivedMessages))
	for _, m := range resp.ReceivedMessages {
		if m != nil && m.AckId != "" {
			ackIDs = append(ackIDs, m.AckId)
		}
	}
	if len(ackIDs) > 0 {
		_, err := p.subs.Acknowledge(p.subscription, &pubsub.AcknowledgeRequest{AckIds: ackIDs}).Context(ctx).Do()
		if err != nil {
			slog.Debug("gmail push ack failed", "account", p.accountID, "error", err)
		}
	}
	return true, nil
}

// sleep waits for d or until ctx is done, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
