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

package push

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWatchRenew is how often the watch command runs when unset.
	DefaultWatchRenew = 6 * time.Hour
	// MinWatchRenew is the lower bound for the renewal interval.
	MinWatchRenew = 5 * time.Minute
	// watchTimeout bounds one run of the watch command.
	watchTimeout = 60 * time.Second
)

// WatchRenewInterval resolves the configured interval in seconds. A nil
// value means the default.
func WatchRenewInterval(sec *float64) time.Duration {
	if sec == nil {
		return DefaultWatchRenew
	}
	d := time.Duration(*sec * float64(time.Second))
	if d < MinWatchRenew {
		return MinWatchRenew
	}
	return d
}

// CommandFunc runs a shell command line.
type CommandFunc func(ctx context.Context, command string) error

// ShellCommand runs command with sh -c and includes its output in errors.
func ShellCommand(ctx context.Context, command string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Watcher re-registers the mailbox watch on a fixed interval. Gmail watch
// registrations expire, so the command has to keep running.
type Watcher struct {
	accountID string
	command   string
	interval  time.Duration
	timeout   time.Duration
	run       CommandFunc

	wg sync.WaitGroup
}

// NewWatcher creates a watcher for one account. It returns nil when no
// command is configured.
func NewWatcher(accountID, command string, interval time.Duration) *Watcher {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	return &Watcher{
		accountID: accountID,
		command:   command,
		interval:  interval,
		timeout:   watchTimeout,
		run:       ShellCommand,
	}
}

// Start renews once, synchronously, then keeps renewing in the background
// until ctx is done. Wait blocks until the background loop exits.
func (w *Watcher) Start(ctx context.Context) {
	w.renew(ctx)

	w.wg.Add(1)
	go w.loop(ctx)
}

// Wait blocks until the renewal loop has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.renew(ctx)
		}
	}
}

func (w *Watcher) renew(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.run(runCtx, w.command); err != nil {
		slog.Warn("gmail watch renew failed", "account", w.accountID, "error", err)
		return
	}
	slog.Info("gmail watch renew ok", "account", w.accountID)
}
