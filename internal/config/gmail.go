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

package config

import (
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultAccountID is used when no accounts map is configured.
const DefaultAccountID = "default"

const (
	defaultPollInterval = 20 * time.Second
	defaultPollFallback = 60 * time.Second
	minPollInterval     = 5 * time.Second
	defaultDMPolicy     = "allowlist"
)

// PushConfig is the Pub/Sub wake-up configuration for an account.
type PushConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ProjectID       string   `yaml:"project_id"`
	Subscription    string   `yaml:"subscription"`
	CredentialsPath string   `yaml:"credentials_path"`
	PollFallbackSec *float64 `yaml:"poll_fallback_sec"`
	WatchCommand    string   `yaml:"watch_command"`
	WatchRenewSec   *float64 `yaml:"watch_renew_sec"`
}

// AccountConfig holds the per-account settings. The same fields at the
// top of the gmail section act as defaults for every account.
type AccountConfig struct {
	Enabled         *bool       `yaml:"enabled"`
	Name            string      `yaml:"name"`
	GogAccount      string      `yaml:"gog_account"`
	PollIntervalSec *float64    `yaml:"poll_interval_sec"`
	DMPolicy        string      `yaml:"dm_policy"`
	AllowFrom       []string    `yaml:"allow_from"`
	Push            *PushConfig `yaml:"push"`
}

// GmailSection is the gmail block of config.yaml.
type GmailSection struct {
	AccountConfig `yaml:",inline"`
	Accounts      map[string]AccountConfig `yaml:"accounts"`
}

// Account is a fully resolved account.
type Account struct {
	AccountID       string
	Name            string
	Enabled         bool
	Configured      bool
	GogAccount      string
	PollIntervalSec *float64
	DMPolicy        string
	AllowFrom       []string
	Push            PushConfig
}

// NormalizeAccountID trims and lowercases an id; blank means the default.
func NormalizeAccountID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return DefaultAccountID
	}
	return id
}

// AccountIDs lists configured account ids, sorted. Without an accounts
// map the single default account is implied.
func (g GmailSection) AccountIDs() []string {
	if len(g.Accounts) == 0 {
		return []string{DefaultAccountID}
	}
	ids := make([]string, 0, len(g.Accounts))
	seen := make(map[string]bool, len(g.Accounts))
	for k := range g.Accounts {
		id := NormalizeAccountID(k)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (g GmailSection) account(id string) AccountConfig {
	for k, v := range g.Accounts {
		if NormalizeAccountID(k) == id {
			return v
		}
	}
	return AccountConfig{}
}

// Resolve layers an account's settings over the section defaults.
func (g GmailSection) Resolve(accountID string) Account {
	id := NormalizeAccountID(accountID)
	base := g.AccountConfig
	acct := g.account(id)

	enabled := true
	if acct.Enabled != nil {
		enabled = *acct.Enabled
	} else if base.Enabled != nil {
		enabled = *base.Enabled
	}

	gogAccount := strings.TrimSpace(firstNonEmpty(acct.GogAccount, base.GogAccount))

	pollInterval := acct.PollIntervalSec
	if pollInterval == nil || !finite(*pollInterval) {
		pollInterval = base.PollIntervalSec
	}
	if pollInterval != nil && !finite(*pollInterval) {
		pollInterval = nil
	}

	allowFrom := acct.AllowFrom
	if allowFrom == nil {
		allowFrom = base.AllowFrom
	}

	var push PushConfig
	if acct.Push != nil {
		push = *acct.Push
	} else if base.Push != nil {
		push = *base.Push
	}

	return Account{
		AccountID:       id,
		Name:            firstNonEmpty(acct.Name, base.Name),
		Enabled:         enabled,
		Configured:      gogAccount != "",
		GogAccount:      gogAccount,
		PollIntervalSec: pollInterval,
		DMPolicy:        firstNonEmpty(acct.DMPolicy, base.DMPolicy, defaultDMPolicy),
		AllowFrom:       trimEntries(allowFrom),
		Push:            push,
	}
}

// ResolveAll resolves every configured account.
func (g GmailSection) ResolveAll() []Account {
	ids := g.AccountIDs()
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Resolve(id))
	}
	return out
}

// PollInterval is the timer period for the account: the explicit setting,
// else the push fallback when push is on, else 20s; never below 5s.
func (a Account) PollInterval() time.Duration {
	d := defaultPollInterval
	switch {
	case a.PollIntervalSec != nil:
		d = seconds(*a.PollIntervalSec)
	case a.Push.Enabled:
		d = defaultPollFallback
		if a.Push.PollFallbackSec != nil && finite(*a.Push.PollFallbackSec) {
			d = seconds(*a.Push.PollFallbackSec)
		}
	}
	if d < minPollInterval {
		d = minPollInterval
	}
	return d
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func trimEntries(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
