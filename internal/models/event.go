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

// Package models defines the data structures shared across the channel service.
package models

import (
	"regexp"
	"time"
)

const (
	// Channel is the channel identifier stamped on every inbound event.
	Channel = "gmail"

	// ChatTypeDirect is the only chat type the mail channel produces.
	ChatTypeDirect = "direct"
)

// InboundEvent is a normalized inbound message handed to the host dispatcher.
//
// The JSON field names are the contract with the dispatch subsystem that
// consumes the inbound queue.
type InboundEvent struct {
	ID                 string `json:"id"`
	Body               string `json:"body"`
	RawBody            string `json:"raw_body"`
	CommandBody        string `json:"command_body"`
	From               string `json:"from"`
	To                 string `json:"to"`
	SessionKey         string `json:"session_key"`
	AccountID          string `json:"account_id"`
	ChatType           string `json:"chat_type"`
	SenderID           string `json:"sender_id"`
	SenderName         string `json:"sender_name"`
	Provider           string `json:"provider"`
	Surface            string `json:"surface"`
	OriginatingChannel string `json:"originating_channel"`
	OriginatingTo      string `json:"originating_to"`
	MessageSID         string `json:"message_sid"`
	MessageThreadID    string `json:"message_thread_id"`
	Subject            string `json:"subject,omitempty"`
	ReceivedAt         string `json:"received_at,omitempty"`
}

// ReplyPayload is one reply produced by the dispatcher for an inbound event.
type ReplyPayload struct {
	EventID    string `json:"event_id"`
	SessionKey string `json:"session_key"`
	Text       string `json:"text"`
	Kind       string `json:"kind,omitempty"` // "final", "block", "tool"
}

// BlockedMessage is the archive record written when a sender fails the
// allowlist.
type BlockedMessage struct {
	ArchivedAt time.Time `json:"archivedAt"`
	AccountID  string    `json:"accountId"`
	MessageID  string    `json:"messageId"`
	ThreadID   string    `json:"threadId"`
	SenderID   *string   `json:"senderId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Date       string    `json:"date"`
	Snippet    string    `json:"snippet"`
}

var messageIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

// ValidMessageID reports whether id is safe to use as a file name.
func ValidMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

// ThreadTarget returns the outbound target string for a thread id.
func ThreadTarget(threadID string) string {
	return "thread:" + threadID
}

// SenderAddress returns the channel-qualified sender identity.
func SenderAddress(senderID string) string {
	return Channel + ":" + senderID
}

// SessionKey derives the stable session key for a mail thread. It depends
// only on the agent scope and thread id, so every message in a thread maps
// to the same session no matter which poll observed it.
func SessionKey(agentID, threadID string) string {
	return "agent:" + agentID + ":" + Channel + ":dm:" + threadID
}
