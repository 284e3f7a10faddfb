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

// Package session provides a Postgres-backed record of inbound mail
// conversations, one row per session key, so they show up in host-side
// session listings.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailchannel/internal/models"
)

// Record is one conversation persisted in Postgres.
type Record struct {
	SessionKey    string
	AccountID     string
	Channel       string
	ThreadID      string
	LastRoute     string // outbound target, "thread:<id>"
	LastMessageID string
	SenderID      string
	SenderName    string
	Subject       string
	MessageCount  int
	LastInboundAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store reads and writes session records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a session store backed by the given Postgres pool.
// It ensures the sessions table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}
	slog.Info("session store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gmail_sessions (
			session_key      TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			channel          TEXT NOT NULL,
			thread_id        TEXT NOT NULL,
			last_route       TEXT NOT NULL,
			last_message_id  TEXT DEFAULT '',
			sender_id        TEXT DEFAULT '',
			sender_name      TEXT DEFAULT '',
			subject          TEXT DEFAULT '',
			message_count    INTEGER DEFAULT 0,
			last_inbound_at  TIMESTAMPTZ DEFAULT NOW(),
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_gmail_sessions_account ON gmail_sessions(account_id);
	`)
	return err
}

// RecordInbound creates the session for an event if missing and updates
// its last route and message.
func (s *Store) RecordInbound(ctx context.Context, ev *models.InboundEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gmail_sessions
			(session_key, account_id, channel, thread_id, last_route,
			 last_message_id, sender_id, sender_name, subject, message_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		ON CONFLICT (session_key) DO UPDATE SET
			account_id      = EXCLUDED.account_id,
			last_route      = EXCLUDED.last_route,
			last_message_id = EXCLUDED.last_message_id,
			sender_id       = EXCLUDED.sender_id,
			sender_name     = EXCLUDED.sender_name,
			subject         = CASE WHEN EXCLUDED.subject = '' THEN gmail_sessions.subject ELSE EXCLUDED.subject END,
			message_count   = gmail_sessions.message_count + 1,
			last_inbound_at = NOW(),
			updated_at      = NOW()
	`, ev.SessionKey, ev.AccountID, models.Channel, ev.MessageThreadID, ev.OriginatingTo,
		ev.MessageSID, ev.SenderID, ev.SenderName, ev.Subject)
	if err != nil {
		return fmt.Errorf("record inbound session: %w", err)
	}
	return nil
}

// Get retrieves one session, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, sessionKey string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+columns+`
		FROM gmail_sessions
		WHERE session_key = $1
	`, sessionKey)

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListByAccount returns an account's sessions, most recent first.
func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+columns+`
		FROM gmail_sessions
		WHERE account_id = $1
		ORDER BY last_inbound_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

const columns = `session_key, account_id, channel, thread_id, last_route,
		       last_message_id, sender_id, sender_name, subject, message_count,
		       last_inbound_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.SessionKey, &r.AccountID, &r.Channel, &r.ThreadID, &r.LastRoute,
		&r.LastMessageID, &r.SenderID, &r.SenderName, &r.Subject, &r.MessageCount,
		&r.LastInboundAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
