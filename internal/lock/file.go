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

package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bcem/mailchannel/internal/models"
)

// FileClaimer creates <stateDir>/gmail-locks/<messageID>.lock with
// O_EXCL, so exactly one creator succeeds on a shared filesystem.
type FileClaimer struct {
	dir string
}

// NewFileClaimer returns a claimer rooted at stateDir.
func NewFileClaimer(stateDir string) *FileClaimer {
	return &FileClaimer{dir: filepath.Join(stateDir, "gmail-locks")}
}

// TryClaim implements Claimer.
func (f *FileClaimer) TryClaim(_ context.Context, messageID string) (Claim, error) {
	if !models.ValidMessageID(messageID) {
		return Claimed, fmt.Errorf("invalid message id %q", messageID)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return Claimed, fmt.Errorf("create lock dir: %w", err)
	}

	fh, err := os.OpenFile(filepath.Join(f.dir, messageID+".lock"), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return AlreadyClaimed, nil
		}
		return Claimed, fmt.Errorf("create lock file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return Claimed, fmt.Errorf("close lock file: %w", err)
	}
	return Claimed, nil
}
