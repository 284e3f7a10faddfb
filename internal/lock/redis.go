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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mailchannel:lock:"

// RedisClaimer claims message ids with SET NX, for deployments where the
// pollers do not share a filesystem.
type RedisClaimer struct {
	rdb       *redis.Client
	accountID string
	ttl       time.Duration
}

// NewRedisClaimer creates a claimer namespaced by account. A zero ttl keeps
// claims forever.
func NewRedisClaimer(rdb *redis.Client, accountID string, ttl time.Duration) *RedisClaimer {
	return &RedisClaimer{rdb: rdb, accountID: accountID, ttl: ttl}
}

// TryClaim implements Claimer.
func (r *RedisClaimer) TryClaim(ctx context.Context, messageID string) (Claim, error) {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, r.accountID, messageID)

	set, err := r.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return Claimed, fmt.Errorf("lock SETNX: %w", err)
	}
	if !set {
		return AlreadyClaimed, nil
	}
	return Claimed, nil
}
