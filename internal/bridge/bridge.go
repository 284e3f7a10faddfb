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

// Package bridge connects normalized inbound events to the host dispatch
// subsystem and sends the replies it produces back into the mail thread.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/mailchannel/internal/gog"
	"github.com/bcem/mailchannel/internal/models"
)

// NoSubject is used when the original message had no subject.
const NoSubject = "(no subject)"

var (
	// ErrMediaUnsupported is returned for media sends; the channel is text only.
	ErrMediaUnsupported = errors.New("gmail channel does not support media")

	// ErrMissingTarget is returned when an outbound send has no recipient.
	ErrMissingTarget = errors.New("missing target")
)

// Sender is the outbound half of the gog client.
type Sender interface {
	Send(ctx context.Context, req gog.SendRequest) error
	ThreadSubject(ctx context.Context, threadID string) (string, error)
}

// SessionRecorder keeps host-side session bookkeeping for inbound events.
type SessionRecorder interface {
	RecordInbound(ctx context.Context, event *models.InboundEvent) error
}

// DeliverFunc sends one reply payload.
type DeliverFunc func(ctx context.Context, payload models.ReplyPayload) error

// DispatchOptions are the callbacks the host uses for an event's replies.
type DispatchOptions struct {
	Deliver DeliverFunc
	// OnError receives delivery failures tagged with the payload kind.
	OnError func(err error, kind string)
}

// HostDispatcher is the external dispatch subsystem. Dispatch hands off
// the event and returns; replies arrive later through opts.
type HostDispatcher interface {
	Dispatch(ctx context.Context, event *models.InboundEvent, opts DispatchOptions) error
}

// Config wires a Bridge for one account.
type Config struct {
	AccountID string
	Sender    Sender
	Host      HostDispatcher
	// Sessions is optional.
	Sessions SessionRecorder
	// OnOutbound is called after each successful send.
	OnOutbound func(at time.Time)
}

// Bridge implements the poller's Dispatcher.
type Bridge struct {
	cfg Config
	now func() time.Time
}

// New creates a bridge.
func New(cfg Config) *Bridge {
	return &Bridge{cfg: cfg, now: time.Now}
}

// Submit records the session and hands the event to the host. Failures are
// logged and never returned to the poller.
func (b *Bridge) Submit(ctx context.Context, event *models.InboundEvent) {
	if b.cfg.Sessions != nil {
		if err := b.cfg.Sessions.RecordInbound(ctx, event); err != nil {
			slog.Error("gmail record inbound session failed",
				"account", b.cfg.AccountID,
				"message_id", event.MessageSID,
				"session_key", event.SessionKey,
				"error", err,
			)
		}
	}

	err := b.cfg.Host.Dispatch(ctx, event, DispatchOptions{
		Deliver: b.replyInThread(event.MessageThreadID, event.Subject),
		OnError: func(err error, kind string) {
			if kind == "" {
				kind = "?"
			}
			slog.Error("gmail dispatch failed",
				"account", b.cfg.AccountID,
				"thread_id", event.MessageThreadID,
				"kind", kind,
				"error", err,
			)
		},
	})
	if err != nil {
		slog.Error("gmail dispatch handoff failed",
			"account", b.cfg.AccountID,
			"message_id", event.MessageSID,
			"error", err,
		)
	}
}

// replyInThread returns a DeliverFunc that replies-all into threadID.
func (b *Bridge) replyInThread(threadID, subject string) DeliverFunc {
	replySubject := ReplySubject(subject)
	return func(ctx context.Context, payload models.ReplyPayload) error {
		text := strings.TrimSpace(payload.Text)
		if text == "" {
			return nil
		}
		err := b.cfg.Sender.Send(ctx, gog.SendRequest{
			ThreadID: threadID,
			Subject:  replySubject,
			Body:     text,
			NoPrompt: true,
		})
		if err != nil {
			return fmt.Errorf("reply to thread %s: %w", threadID, err)
		}
		b.markOutbound()
		return nil
	}
}

// SendText sends text to a target outside of a dispatch cycle. A target of
// "thread:<id>" or a bare hex thread id replies-all into that thread using
// its subject; anything else starts a new thread to that address. It
// returns the normalized target.
func (b *Bridge) SendText(ctx context.Context, to, text string) (string, error) {
	target := strings.TrimSpace(to)
	if target == "" {
		return "", ErrMissingTarget
	}

	threadID := strings.TrimSpace(stripThreadPrefix(target))
	if gog.LooksLikeThreadID(threadID) {
		subject, err := b.cfg.Sender.ThreadSubject(ctx, threadID)
		if err != nil {
			slog.Warn("gmail thread subject lookup failed",
				"account", b.cfg.AccountID,
				"thread_id", threadID,
				"error", err,
			)
			subject = ""
		}
		err = b.cfg.Sender.Send(ctx, gog.SendRequest{
			ThreadID: threadID,
			Subject:  ReplySubject(subject),
			Body:     text,
			NoPrompt: true,
		})
		if err != nil {
			return "", fmt.Errorf("send to thread %s: %w", threadID, err)
		}
		b.markOutbound()
		return models.ThreadTarget(threadID), nil
	}

	err := b.cfg.Sender.Send(ctx, gog.SendRequest{
		To:       target,
		Subject:  NoSubject,
		Body:     text,
		NoPrompt: true,
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", target, err)
	}
	b.markOutbound()
	return target, nil
}

// SendMedia always fails with ErrMediaUnsupported.
func (b *Bridge) SendMedia(context.Context, string, string) error {
	return ErrMediaUnsupported
}

func (b *Bridge) markOutbound() {
	if b.cfg.OnOutbound != nil {
		b.cfg.OnOutbound(b.now())
	}
}

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return NoSubject
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func stripThreadPrefix(target string) string {
	if len(target) >= 7 && strings.EqualFold(target[:7], "thread:") {
		return target[7:]
	}
	return target
}
