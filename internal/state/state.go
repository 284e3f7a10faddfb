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

// Package state persists the per-account history cursor and the bounded
// set of recently processed message ids.
package state

import (
	"context"
)

// MaxSeen bounds the seen-set kept between ticks.
const MaxSeen = 500

// State is the persisted poller state for one account.
type State struct {
	LastHistoryID  string   `json:"lastHistoryId,omitempty"`
	SeenMessageIDs []string `json:"seenMessageIds"`
}

// Store loads and saves State for one account. Load never fails: a missing
// or unreadable record yields an empty State.
type Store interface {
	Load(ctx context.Context) State
	Save(ctx context.Context, st State) error
}

// Trim keeps the n most recently added ids.
func (s State) Trim(n int) State {
	if len(s.SeenMessageIDs) > n {
		s.SeenMessageIDs = append([]string(nil), s.SeenMessageIDs[len(s.SeenMessageIDs)-n:]...)
	}
	return s
}

// SeenSet is an insertion-ordered set of message ids.
type SeenSet struct {
	order []string
	index map[string]struct{}
}

// NewSeenSet builds a set from ids in their stored order.
func NewSeenSet(ids []string) *SeenSet {
	s := &SeenSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Has reports whether id is in the set.
func (s *SeenSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Add appends id if it is not already present.
func (s *SeenSet) Add(id string) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
}

// IDs returns the ids oldest first.
func (s *SeenSet) IDs() []string {
	return append([]string(nil), s.order...)
}
