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

// Package dispatch publishes inbound events to Redis for the agent host and
// routes the replies it pushes back to the bridge that sent each event.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/bcem/mailchannel/internal/bridge"
	"github.com/bcem/mailchannel/internal/models"
)

const (
	// DefaultInboundQueue receives inbound events (LPUSH).
	DefaultInboundQueue = "mailchannel:inbound"
	// DefaultReplyQueue is where the host pushes reply payloads.
	DefaultReplyQueue = "mailchannel:replies"
	// DefaultPendingTTL bounds how long replies are accepted for an event.
	DefaultPendingTTL = 30 * time.Minute

	// DefaultMaxDeliveries caps concurrent reply sends across accounts.
	DefaultMaxDeliveries = 8

	// KindFinal marks the last payload for an event.
	KindFinal = "final"

	popTimeout = 5 * time.Second
)

// envelope is the JSON pushed to the inbound queue.
type envelope struct {
	ID         string               `json:"id"`
	Channel    string               `json:"channel"`
	ReplyQueue string               `json:"reply_queue"`
	EnqueuedAt string               `json:"enqueued_at"`
	Event      *models.InboundEvent `json:"event"`
}

type pending struct {
	opts    bridge.DispatchOptions
	expires time.Time
	// tail is closed when the event's latest queued delivery finishes.
	tail chan struct{}
}

// RedisDispatcher implements bridge.HostDispatcher over two Redis lists.
type RedisDispatcher struct {
	rdb          *redis.Client
	inboundQueue string
	replyQueue   string
	ttl          time.Duration
	sem          *semaphore.Weighted
	inflight     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]pending
	now     func() time.Time
}

// Config configures a RedisDispatcher. Empty fields take defaults.
type Config struct {
	InboundQueue string
	ReplyQueue   string
	PendingTTL   time.Duration
	// MaxDeliveries bounds how many replies are sent at once.
	MaxDeliveries int
}

// NewRedisDispatcher creates a dispatcher. Call Run to start routing replies.
func NewRedisDispatcher(rdb *redis.Client, cfg Config) *RedisDispatcher {
	if cfg.InboundQueue == "" {
		cfg.InboundQueue = DefaultInboundQueue
	}
	if cfg.ReplyQueue == "" {
		cfg.ReplyQueue = DefaultReplyQueue
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	return &RedisDispatcher{
		rdb:          rdb,
		inboundQueue: cfg.InboundQueue,
		replyQueue:   cfg.ReplyQueue,
		ttl:          cfg.PendingTTL,
		sem:          semaphore.NewWeighted(int64(cfg.MaxDeliveries)),
		pending:      make(map[string]pending),
		now:          time.Now,
	}
}

// Dispatch implements bridge.HostDispatcher. It assigns the event an id
// when it has none.
func (d *RedisDispatcher) Dispatch(ctx context.Context, event *models.InboundEvent, opts bridge.DispatchOptions) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	msg, err := json.Marshal(envelope{
		ID:         event.ID,
		Channel:    models.Channel,
		ReplyQueue: d.replyQueue,
		EnqueuedAt: d.now().UTC().Format(time.RFC3339),
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("marshal inbound event: %w", err)
	}

	d.track(event.ID, opts)
	if err := d.rdb.LPush(ctx, d.inboundQueue, msg).Err(); err != nil {
		d.forget(event.ID)
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published inbound event",
		"event_id", event.ID,
		"account", event.AccountID,
		"message_id", event.MessageSID,
		"queue", d.inboundQueue,
	)
	return nil
}

// Run pops reply payloads until ctx is cancelled. Deliveries run in the
// background; Run waits for them before returning.
func (d *RedisDispatcher) Run(ctx context.Context) error {
	slog.Info("reply router started", "queue", d.replyQueue)
	defer d.inflight.Wait()
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := d.rdb.BRPop(ctx, popTimeout, d.replyQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				d.sweep()
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("reply queue pop failed", "queue", d.replyQueue, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		var payload models.ReplyPayload
		if err := json.Unmarshal([]byte(res[1]), &payload); err != nil {
			slog.Warn("discarding malformed reply payload", "error", err)
			continue
		}
		d.route(ctx, payload)
	}
}

// route hands one payload to the bridge that dispatched its event. Sends
// for different events run concurrently; payloads of one event are
// delivered in the order they were popped.
func (d *RedisDispatcher) route(ctx context.Context, payload models.ReplyPayload) {
	d.mu.Lock()
	p, ok := d.pending[payload.EventID]
	if !ok {
		d.mu.Unlock()
		slog.Warn("reply for unknown or expired event", "event_id", payload.EventID, "kind", payload.Kind)
		return
	}
	prev := p.tail
	done := make(chan struct{})
	p.tail = done
	if payload.Kind == KindFinal {
		delete(d.pending, payload.EventID)
	} else {
		d.pending[payload.EventID] = p
	}
	d.mu.Unlock()

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		d.deliver(ctx, p.opts, payload)
	}()
}

func (d *RedisDispatcher) deliver(ctx context.Context, opts bridge.DispatchOptions, payload models.ReplyPayload) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("reply dropped on shutdown", "event_id", payload.EventID, "kind", payload.Kind)
		return
	}
	defer d.sem.Release(1)

	if err := opts.Deliver(ctx, payload); err != nil && opts.OnError != nil {
		opts.OnError(err, payload.Kind)
	}
}

func (d *RedisDispatcher) track(id string, opts bridge.DispatchOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[id] = pending{opts: opts, expires: d.now().Add(d.ttl)}
}

func (d *RedisDispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

// sweep drops events whose reply window has passed.
func (d *RedisDispatcher) sweep() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.pending {
		if now.After(p.expires) {
			delete(d.pending, id)
		}
	}
}

// Pending returns the number of events awaiting replies.
func (d *RedisDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Ping checks the Redis connection.
func (d *RedisDispatcher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.rdb.Ping(ctx).Err()
}
