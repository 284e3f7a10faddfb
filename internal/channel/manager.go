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

// Package channel runs the Gmail accounts: for each one a poll timer and,
// when configured, a push puller, both under one cancellable context.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/option"

	"github.com/bcem/mailchannel/internal/bridge"
	"github.com/bcem/mailchannel/internal/config"
	"github.com/bcem/mailchannel/internal/gate"
	"github.com/bcem/mailchannel/internal/gog"
	"github.com/bcem/mailchannel/internal/lock"
	"github.com/bcem/mailchannel/internal/mailparse"
	"github.com/bcem/mailchannel/internal/poller"
	"github.com/bcem/mailchannel/internal/push"
	"github.com/bcem/mailchannel/internal/state"
	"github.com/bcem/mailchannel/internal/status"
)

// ErrNotConfigured is returned when an enabled account has no gog account.
var ErrNotConfigured = errors.New("gmail account not configured (missing gog_account)")

// firstTickDelay is the wait before an account's first poll.
const firstTickDelay = 250 * time.Millisecond

// Deps are the shared collaborators every account is built from.
type Deps struct {
	StateDir  string
	AgentID   string
	Extractor mailparse.ReplyExtractor
	Runner    gog.Runner
	Host      bridge.HostDispatcher
	Sessions  bridge.SessionRecorder
	Status    *status.Registry

	// States and Claimers pick the storage backends per account. Nil
	// means files under StateDir.
	States   func(accountID string) state.Store
	Claimers func(accountID string) lock.Claimer

	// PushOptions override the Pub/Sub client options, for tests.
	PushOptions []option.ClientOption
}

// Handle controls one started account.
type Handle struct {
	accountID string
	bridge    *bridge.Bridge
	poller    *poller.Poller
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Stop cancels the account's tasks and waits for them to exit.
func (h *Handle) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// Bridge returns the account's outbound bridge, or nil for a disabled account.
func (h *Handle) Bridge() *bridge.Bridge {
	return h.bridge
}

// Manager starts and stops accounts.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	handles  map[string]*Handle
	accounts []config.Account
}

// NewManager creates a manager.
func NewManager(deps Deps) *Manager {
	if deps.Runner == nil {
		deps.Runner = gog.ExecRunner{}
	}
	if deps.Extractor == nil {
		deps.Extractor = mailparse.NopExtractor{}
	}
	if deps.Status == nil {
		deps.Status = status.NewRegistry()
	}
	if deps.States == nil {
		dir := deps.StateDir
		deps.States = func(id string) state.Store { return state.NewFileStore(dir, id) }
	}
	if deps.Claimers == nil {
		claimer := lock.NewFileClaimer(deps.StateDir)
		deps.Claimers = func(string) lock.Claimer { return claimer }
	}
	return &Manager{deps: deps, handles: make(map[string]*Handle)}
}

// StartAccount starts one account. A disabled account returns a handle
// that does nothing; an unconfigured one returns ErrNotConfigured.
func (m *Manager) StartAccount(ctx context.Context, acct config.Account) (*Handle, error) {
	if !acct.Enabled {
		slog.Info("gmail disabled", "account", acct.AccountID)
		return &Handle{accountID: acct.AccountID}, nil
	}
	if !acct.Configured {
		return nil, ErrNotConfigured
	}

	client := gog.NewClient(m.deps.Runner, acct.GogAccount)
	reg := m.deps.Status
	id := acct.AccountID

	br := bridge.New(bridge.Config{
		AccountID:  id,
		Sender:     client,
		Host:       m.deps.Host,
		Sessions:   m.deps.Sessions,
		OnOutbound: func(at time.Time) { reg.MarkOutbound(id, at) },
	})

	p := poller.New(poller.Config{
		AccountID:  id,
		Self:       acct.GogAccount,
		DMPolicy:   acct.DMPolicy,
		AllowFrom:  acct.AllowFrom,
		AgentID:    m.deps.AgentID,
		Source:     client,
		Store:      m.deps.States(id),
		Claimer:    m.deps.Claimers(id),
		Archiver:   gate.NewArchiver(m.deps.StateDir),
		Extractor:  m.deps.Extractor,
		Dispatcher: br,
		OnInbound:  func(at time.Time) { reg.MarkInbound(id, at) },
	})

	accCtx, cancel := context.WithCancel(ctx)
	h := &Handle{accountID: id, bridge: br, poller: p, cancel: cancel}

	tick := func(ctx context.Context) {
		if _, err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			reg.SetError(id, err)
			slog.Error("gmail poll error", "account", id, "error", err)
		}
	}

	interval := acct.PollInterval()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		pollLoop(accCtx, interval, tick)
	}()

	pushOn := false
	if acct.Push.Enabled {
		puller, err := m.newPuller(accCtx, acct, tick)
		if err != nil {
			slog.Warn("gmail push unavailable, falling back to polling",
				"account", id,
				"poll_interval", interval,
				"error", err,
			)
		} else {
			pushOn = true
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				puller.Run(accCtx)
			}()
		}
	}

	reg.MarkStarted(id, time.Now())
	slog.Info("gmail provider started",
		"account", id,
		"gog_account", acct.GogAccount,
		"poll_interval", interval,
		"push", pushOn,
	)
	return h, nil
}

func (m *Manager) newPuller(ctx context.Context, acct config.Account, tick push.TickFunc) (*push.Puller, error) {
	cfg := push.Config{
		ProjectID:       acct.Push.ProjectID,
		Subscription:    acct.Push.Subscription,
		CredentialsPath: acct.Push.CredentialsPath,
	}
	watcher := push.NewWatcher(acct.AccountID, acct.Push.WatchCommand, push.WatchRenewInterval(acct.Push.WatchRenewSec))
	return push.NewPuller(ctx, acct.AccountID, cfg, tick, watcher, m.deps.PushOptions...)
}

// pollLoop ticks after firstTickDelay and then every interval until ctx
// is done.
func pollLoop(ctx context.Context, interval time.Duration, tick push.TickFunc) {
	first := time.NewTimer(firstTickDelay)
	defer first.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-first.C:
			tick(ctx)
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// Start starts every account in the gmail section. Accounts that fail to
// start are recorded in status and skipped.
func (m *Manager) Start(ctx context.Context, section config.GmailSection) {
	accounts := section.ResolveAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts

	for _, acct := range accounts {
		h, err := m.StartAccount(ctx, acct)
		if err != nil {
			m.deps.Status.SetError(acct.AccountID, err)
			slog.Error("gmail account failed to start", "account", acct.AccountID, "error", err)
			continue
		}
		m.handles[acct.AccountID] = h
	}
}

// Stop stops every running account.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	for id, h := range m.handles {
		h.Stop()
		if h.cancel != nil {
			m.deps.Status.MarkStopped(id, time.Now())
			slog.Info("gmail provider stopped", "account", id)
		}
		delete(m.handles, id)
	}
}

// Reload stops all accounts and starts them again from section.
func (m *Manager) Reload(ctx context.Context, section config.GmailSection) {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
	m.Start(ctx, section)
}

// Bridge returns the outbound bridge for a running account.
func (m *Manager) Bridge(accountID string) (*bridge.Bridge, error) {
	id := config.NormalizeAccountID(accountID)
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok || h.bridge == nil {
		return nil, fmt.Errorf("gmail account %s is not running", id)
	}
	return h.bridge, nil
}

// Snapshots returns the status of every configured account.
func (m *Manager) Snapshots() []status.Snapshot {
	m.mu.Lock()
	accounts := make([]status.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, status.Account{
			AccountID:  a.AccountID,
			Name:       a.Name,
			Enabled:    a.Enabled,
			Configured: a.Configured,
			GogAccount: a.GogAccount,
		})
	}
	m.mu.Unlock()
	return m.deps.Status.Snapshots(accounts)
}
