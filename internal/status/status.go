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

// Package status tracks per-account runtime state and renders the
// snapshots, issues and summaries served on the status endpoint.
package status

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bcem/mailchannel/internal/models"
)

// Runtime is the mutable state of one running account.
type Runtime struct {
	AccountID      string
	Running        bool
	LastStartAt    *time.Time
	LastStopAt     *time.Time
	LastError      string
	LastInboundAt  *time.Time
	LastOutboundAt *time.Time
}

// Registry holds Runtime values for all accounts.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Runtime
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Runtime)}
}

func (r *Registry) update(accountID string, fn func(rt *Runtime)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.accounts[accountID]
	if !ok {
		rt = &Runtime{AccountID: accountID}
		r.accounts[accountID] = rt
	}
	fn(rt)
}

// MarkStarted records a start and clears the previous error.
func (r *Registry) MarkStarted(accountID string, at time.Time) {
	r.update(accountID, func(rt *Runtime) {
		rt.Running = true
		rt.LastStartAt = &at
		rt.LastError = ""
	})
}

// MarkStopped records a stop.
func (r *Registry) MarkStopped(accountID string, at time.Time) {
	r.update(accountID, func(rt *Runtime) {
		rt.Running = false
		rt.LastStopAt = &at
	})
}

// SetError records the most recent error. A nil error is ignored.
func (r *Registry) SetError(accountID string, err error) {
	if err == nil {
		return
	}
	r.update(accountID, func(rt *Runtime) { rt.LastError = err.Error() })
}

// MarkInbound records an inbound event.
func (r *Registry) MarkInbound(accountID string, at time.Time) {
	r.update(accountID, func(rt *Runtime) { rt.LastInboundAt = &at })
}

// MarkOutbound records a sent reply.
func (r *Registry) MarkOutbound(accountID string, at time.Time) {
	r.update(accountID, func(rt *Runtime) { rt.LastOutboundAt = &at })
}

// Get returns a copy of an account's runtime; unknown accounts yield a
// stopped runtime.
func (r *Registry) Get(accountID string) Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.accounts[accountID]; ok {
		return *rt
	}
	return Runtime{AccountID: accountID}
}

// Account describes the configured side of an account.
type Account struct {
	AccountID  string
	Name       string
	Enabled    bool
	Configured bool
	GogAccount string
}

// Snapshot is the status view of one account.
type Snapshot struct {
	AccountID      string     `json:"accountId"`
	Name           string     `json:"name,omitempty"`
	Enabled        bool       `json:"enabled"`
	Configured     bool       `json:"configured"`
	GogAccount     string     `json:"gogAccount"`
	Running        bool       `json:"running"`
	LastStartAt    *time.Time `json:"lastStartAt"`
	LastStopAt     *time.Time `json:"lastStopAt"`
	LastError      *string    `json:"lastError"`
	LastInboundAt  *time.Time `json:"lastInboundAt"`
	LastOutboundAt *time.Time `json:"lastOutboundAt"`
}

// BuildSnapshot merges an account description with its runtime.
func BuildSnapshot(acct Account, rt Runtime) Snapshot {
	s := Snapshot{
		AccountID:      acct.AccountID,
		Name:           acct.Name,
		Enabled:        acct.Enabled,
		Configured:     acct.Configured,
		GogAccount:     acct.GogAccount,
		Running:        rt.Running,
		LastStartAt:    rt.LastStartAt,
		LastStopAt:     rt.LastStopAt,
		LastInboundAt:  rt.LastInboundAt,
		LastOutboundAt: rt.LastOutboundAt,
	}
	if rt.LastError != "" {
		msg := rt.LastError
		s.LastError = &msg
	}
	return s
}

// Snapshots builds snapshots for the given accounts, sorted by id.
func (r *Registry) Snapshots(accounts []Account) []Snapshot {
	out := make([]Snapshot, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, BuildSnapshot(a, r.Get(a.AccountID)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Issue is a problem surfaced to operators.
type Issue struct {
	Channel   string `json:"channel"`
	AccountID string `json:"accountId"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// CollectIssues returns one runtime issue per account with a last error.
func CollectIssues(snapshots []Snapshot) []Issue {
	var issues []Issue
	for _, s := range snapshots {
		if s.LastError == nil {
			continue
		}
		msg := strings.TrimSpace(*s.LastError)
		if msg == "" {
			continue
		}
		issues = append(issues, Issue{
			Channel:   models.Channel,
			AccountID: s.AccountID,
			Kind:      "runtime",
			Message:   "Channel error: " + msg,
		})
	}
	return issues
}

// Summary is the channel-level digest of one snapshot.
type Summary struct {
	Configured  bool       `json:"configured"`
	Running     bool       `json:"running"`
	LastStartAt *time.Time `json:"lastStartAt"`
	LastStopAt  *time.Time `json:"lastStopAt"`
	LastError   *string    `json:"lastError"`
}

// BuildSummary reduces a snapshot to its summary fields.
func BuildSummary(s Snapshot) Summary {
	return Summary{
		Configured:  s.Configured,
		Running:     s.Running,
		LastStartAt: s.LastStartAt,
		LastStopAt:  s.LastStopAt,
		LastError:   s.LastError,
	}
}
