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

package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/mailchannel/internal/gate"
	"github.com/bcem/mailchannel/internal/mailparse"
	"github.com/bcem/mailchannel/internal/models"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeBlocked
	outcomeDispatched
)

// handleMessage fetches, gates, normalizes and dispatches one claimed
// message.
func (p *Poller) handleMessage(ctx context.Context, messageID string) (outcome, error) {
	msg, err := p.cfg.Source.GetMessage(ctx, messageID)
	if err != nil {
		return outcomeSkipped, err
	}
	if msg == nil {
		return outcomeSkipped, nil
	}

	threadID := strings.TrimSpace(msg.ThreadId)
	if threadID == "" {
		slog.Debug("gmail message has no thread id, skipping", "account", p.cfg.AccountID, "message_id", messageID)
		return outcomeSkipped, nil
	}

	var from, subject, date string
	if msg.Payload != nil {
		from = mailparse.HeaderValue(msg.Payload.Headers, "From")
		subject = mailparse.HeaderValue(msg.Payload.Headers, "Subject")
		date = mailparse.HeaderValue(msg.Payload.Headers, "Date")
	}
	senderID := mailparse.ParseEmailAddress(from)
	snippet := strings.TrimSpace(msg.Snippet)

	if senderID != "" && p.cfg.Self != "" && senderID == p.cfg.Self {
		return outcomeSkipped, nil
	}

	if gate.Evaluate(senderID, p.cfg.DMPolicy, p.cfg.AllowFrom) == gate.Block {
		p.archiveBlocked(models.BlockedMessage{
			AccountID: p.cfg.AccountID,
			MessageID: messageID,
			ThreadID:  threadID,
			SenderID:  optional(senderID),
			From:      from,
			Subject:   subject,
			Date:      date,
			Snippet:   snippet,
		})
		return outcomeBlocked, nil
	}

	body := strings.TrimSpace(mailparse.ExtractBody(msg.Payload))
	if body == "" {
		body = snippet
	}
	body = p.stripQuotes(messageID, body)

	event := &models.InboundEvent{
		Body:               composeText(from, subject, date, body),
		RawBody:            body,
		CommandBody:        body,
		From:               models.SenderAddress(senderID),
		To:                 models.ThreadTarget(threadID),
		SessionKey:         models.SessionKey(p.cfg.AgentID, threadID),
		AccountID:          p.cfg.AccountID,
		ChatType:           models.ChatTypeDirect,
		SenderID:           senderID,
		SenderName:         from,
		Provider:           models.Channel,
		Surface:            models.Channel,
		OriginatingChannel: models.Channel,
		OriginatingTo:      models.ThreadTarget(threadID),
		MessageSID:         messageID,
		MessageThreadID:    threadID,
		Subject:            subject,
		ReceivedAt:         p.now().UTC().Format(time.RFC3339),
	}

	if err := p.dispatch(ctx, event); err != nil {
		return outcomeSkipped, err
	}
	if p.cfg.OnInbound != nil {
		p.cfg.OnInbound(p.now())
	}
	return outcomeDispatched, nil
}

func (p *Poller) archiveBlocked(entry models.BlockedMessage) {
	sender := "<unknown>"
	if entry.SenderID != nil {
		sender = *entry.SenderID
	}
	slog.Info("gmail blocked sender (not allowlisted)",
		"account", p.cfg.AccountID,
		"message_id", entry.MessageID,
		"sender", sender,
	)

	if p.cfg.Archiver == nil {
		return
	}
	if _, err := p.cfg.Archiver.Archive(entry); err != nil {
		slog.Error("gmail archive blocked sender failed",
			"account", p.cfg.AccountID,
			"message_id", entry.MessageID,
			"error", err,
		)
	}
}

// stripQuotes runs the reply extractor. Failures and empty results keep
// the original body.
func (p *Poller) stripQuotes(messageID, body string) string {
	parsed, err := p.cfg.Extractor.ExtractReply(body)
	if err != nil {
		slog.Debug("reply extraction failed, keeping full body",
			"account", p.cfg.AccountID,
			"message_id", messageID,
			"error", err,
		)
		return body
	}
	if parsed = strings.TrimSpace(parsed); parsed != "" {
		return parsed
	}
	return body
}

// dispatch hands the event over. A panicking dispatcher is reported as an
// error for this message.
func (p *Poller) dispatch(ctx context.Context, event *models.InboundEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	p.cfg.Dispatcher.Submit(ctx, event)
	return nil
}

// composeText renders the header block and body. Missing subject, date or
// body lines are omitted.
func composeText(from, subject, date, body string) string {
	lines := []string{"From: " + from}
	if subject != "" {
		lines = append(lines, "Subject: "+subject)
	}
	if date != "" {
		lines = append(lines, "Date: "+date)
	}
	if body != "" {
		lines = append(lines, body)
	}
	return strings.Join(lines, "\n")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
