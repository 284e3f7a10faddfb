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

// Package poller implements the per-account history poller. A tick reads
// mailbox changes since the stored cursor, claims each new message, gates
// it on the sender allowlist, normalizes it and hands it to the dispatch
// bridge, then advances the cursor once the whole page has been attempted.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/bcem/mailchannel/internal/gog"
	"github.com/bcem/mailchannel/internal/lock"
	"github.com/bcem/mailchannel/internal/mailparse"
	"github.com/bcem/mailchannel/internal/models"
	"github.com/bcem/mailchannel/internal/state"
)

const (
	// DefaultPageSize is the number of history entries fetched per tick.
	DefaultPageSize = 50

	// DefaultAgentID scopes session keys.
	DefaultAgentID = "main"
)

// MailSource is the subset of the gog client the poller uses.
type MailSource interface {
	History(ctx context.Context, since string, max int) (*gog.HistoryPage, error)
	GetMessage(ctx context.Context, messageID string) (*gmail.Message, error)
}

// Dispatcher accepts normalized inbound events. Submit must not block on
// reply delivery.
type Dispatcher interface {
	Submit(ctx context.Context, event *models.InboundEvent)
}

// Archiver records messages rejected by the allowlist.
type Archiver interface {
	Archive(entry models.BlockedMessage) (string, error)
}

// Config wires a Poller to its collaborators.
type Config struct {
	AccountID string
	// Self is the mailbox address; messages from it are skipped.
	Self      string
	DMPolicy  string
	AllowFrom []string
	AgentID   string
	PageSize  int

	Source     MailSource
	Store      state.Store
	Claimer    lock.Claimer
	Archiver   Archiver
	Extractor  mailparse.ReplyExtractor
	Dispatcher Dispatcher

	// OnInbound is called after each event is dispatched.
	OnInbound func(at time.Time)
}

// Result summarizes one tick.
type Result struct {
	// Busy is set when another tick was already running.
	Busy bool
	// Empty is set when the source returned no cursor.
	Empty      bool
	Cursor     string
	Candidates int
	Skipped    int
	Blocked    int
	Dispatched int
	Failed     int
}

// Poller runs ticks for one account. At most one tick runs at a time.
type Poller struct {
	cfg Config
	mu  sync.Mutex
	now func() time.Time
}

// New creates a poller, filling defaults for unset options.
func New(cfg Config) *Poller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.AgentID == "" {
		cfg.AgentID = DefaultAgentID
	}
	if cfg.Extractor == nil {
		cfg.Extractor = mailparse.NopExtractor{}
	}
	cfg.Self = strings.ToLower(strings.TrimSpace(cfg.Self))
	return &Poller{cfg: cfg, now: time.Now}
}

// Tick runs one poll. A tick that starts while another is in flight
// returns immediately with Result.Busy set.
func (p *Poller) Tick(ctx context.Context) (Result, error) {
	if !p.mu.TryLock() {
		slog.Debug("gmail poll already running, dropping tick", "account", p.cfg.AccountID)
		return Result{Busy: true}, nil
	}
	defer p.mu.Unlock()

	return p.pollOnce(ctx)
}

func (p *Poller) pollOnce(ctx context.Context) (Result, error) {
	var res Result

	st := p.cfg.Store.Load(ctx)
	since, err := p.ensureCursor(ctx, st)
	if err != nil {
		return res, err
	}
	seen := state.NewSeenSet(st.SeenMessageIDs)

	page, err := p.cfg.Source.History(ctx, since, p.cfg.PageSize)
	if err != nil {
		return res, fmt.Errorf("fetch history since %s: %w", since, err)
	}
	if page.HistoryID == "" {
		res.Empty = true
		return res, nil
	}
	res.Cursor = page.HistoryID
	res.Candidates = len(page.Messages)

	for _, raw := range page.Messages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		messageID := strings.TrimSpace(raw)
		if messageID == "" || seen.Has(messageID) {
			res.Skipped++
			continue
		}

		claim, err := p.cfg.Claimer.TryClaim(ctx, messageID)
		if !lock.Permit(p.cfg.AccountID, messageID, claim, err) {
			res.Skipped++
			continue
		}
		seen.Add(messageID)

		outcome, err := p.handleMessage(ctx, messageID)
		if err != nil {
			res.Failed++
			slog.Error("gmail message processing failed",
				"account", p.cfg.AccountID,
				"message_id", messageID,
				"error", err,
			)
			continue
		}
		switch outcome {
		case outcomeDispatched:
			res.Dispatched++
		case outcomeBlocked:
			res.Blocked++
		default:
			res.Skipped++
		}
	}

	next := state.State{LastHistoryID: page.HistoryID, SeenMessageIDs: seen.IDs()}.Trim(state.MaxSeen)
	if err := p.cfg.Store.Save(ctx, next); err != nil {
		return res, fmt.Errorf("save gmail state: %w", err)
	}

	if res.Candidates > 0 {
		slog.Info("gmail poll complete",
			"account", p.cfg.AccountID,
			"cursor", res.Cursor,
			"candidates", res.Candidates,
			"dispatched", res.Dispatched,
			"blocked", res.Blocked,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// ensureCursor returns the stored cursor, or asks the source for one near
// now and persists it, so a new account never backfills its mailbox.
func (p *Poller) ensureCursor(ctx context.Context, st state.State) (string, error) {
	if st.LastHistoryID != "" {
		return st.LastHistoryID, nil
	}

	page, err := p.cfg.Source.History(ctx, "1", 1)
	if err != nil {
		return "", fmt.Errorf("initialize history cursor: %w", err)
	}
	if page.HistoryID == "" {
		return "", errors.New("failed to initialize history cursor (missing historyId)")
	}

	if err := p.cfg.Store.Save(ctx, state.State{LastHistoryID: page.HistoryID}); err != nil {
		return "", fmt.Errorf("save initial cursor: %w", err)
	}
	slog.Info("gmail history cursor initialised", "account", p.cfg.AccountID, "cursor", page.HistoryID)
	return page.HistoryID, nil
}
