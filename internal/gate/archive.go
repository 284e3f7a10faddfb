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

package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bcem/mailchannel/internal/models"
)

// Archiver writes blocked messages to
// <stateDir>/gmail-archive/blocked/<accountID>/<YYYY-MM-DD>/<messageID>.json.
type Archiver struct {
	root string
	now  func() time.Time
}

// NewArchiver returns an archiver rooted at stateDir.
func NewArchiver(stateDir string) *Archiver {
	return &Archiver{
		root: filepath.Join(stateDir, "gmail-archive", "blocked"),
		now:  time.Now,
	}
}

// Archive writes one entry and returns its path. ArchivedAt is filled in
// when zero.
func (a *Archiver) Archive(entry models.BlockedMessage) (string, error) {
	if !models.ValidMessageID(entry.MessageID) {
		return "", fmt.Errorf("invalid message id %q", entry.MessageID)
	}

	now := a.now().UTC()
	if entry.ArchivedAt.IsZero() {
		entry.ArchivedAt = now
	}

	dir := filepath.Join(a.root, entry.AccountID, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode archive entry: %w", err)
	}
	raw = append(raw, '\n')

	path := filepath.Join(dir, entry.MessageID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write archive entry: %w", err)
	}
	return path, nil
}
