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

// Package gate enforces the sender allowlist and archives what it blocks.
package gate

import (
	"slices"
	"strings"
)

// Policy values accepted for dm_policy.
const (
	PolicyAllowlist = "allowlist"
	PolicyPairing   = "pairing"
	PolicyOpen      = "open"
)

// Decision is the outcome of Evaluate.
type Decision int

const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// Evaluate applies policy to a sender. Only the allowlist policy is
// enforced here; pairing approval happens upstream, so pairing and open
// both allow. An empty policy means allowlist.
func Evaluate(senderID, policy string, allowFrom []string) Decision {
	if policy != "" && policy != PolicyAllowlist {
		return Allow
	}

	sender := normalize(senderID)
	if sender == "" {
		return Block
	}
	if slices.Contains(NormalizeAllowFrom(allowFrom), sender) {
		return Allow
	}
	return Block
}

// NormalizeAllowFrom trims and lowercases entries, dropping blanks and
// duplicates while keeping the first occurrence order.
func NormalizeAllowFrom(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		n := normalize(e)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
