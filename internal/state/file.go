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

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore keeps state in <stateDir>/gmail/<accountID>.json.
type FileStore struct {
	path string
}

// NewFileStore returns a store for one account under stateDir.
func NewFileStore(stateDir, accountID string) *FileStore {
	return &FileStore{path: filepath.Join(stateDir, "gmail", accountID+".json")}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context) State {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("read gmail state failed", "path", f.path, "error", err)
		}
		return State{}
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		slog.Warn("gmail state file is corrupt, starting empty", "path", f.path, "error", err)
		return State{}
	}
	return st
}

// Save implements Store. The file is replaced atomically.
func (f *FileStore) Save(_ context.Context, st State) error {
	if st.SeenMessageIDs == nil {
		st.SeenMessageIDs = []string{}
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gmail state: %w", err)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
