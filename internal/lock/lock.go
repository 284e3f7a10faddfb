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

// Package lock provides the exclusive per-message claim that keeps two
// pollers, in this process or another, from handling the same message.
// Claims are never released.
package lock

import (
	"context"
	"log/slog"
)

// Claim is the outcome of a claim attempt.
type Claim int

const (
	// Claimed means the caller owns the message.
	Claimed Claim = iota
	// AlreadyClaimed means another worker got there first.
	AlreadyClaimed
)

func (c Claim) String() string {
	if c == AlreadyClaimed {
		return "already_claimed"
	}
	return "claimed"
}

// Claimer atomically claims message ids. Errors other than "already
// claimed" are returned alongside Claimed.
type Claimer interface {
	TryClaim(ctx context.Context, messageID string) (Claim, error)
}

// Permit decides whether processing may go ahead. A claim error fails
// open: it is logged and the message is processed anyway.
func Permit(accountID, messageID string, c Claim, err error) bool {
	if err != nil {
		slog.Warn("message lock failed, processing without it",
			"account", accountID,
			"message_id", messageID,
			"error", err,
		)
		return true
	}
	return c == Claimed
}
