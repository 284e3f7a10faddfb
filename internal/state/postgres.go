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
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps state for every account in one table, so that
// several hosts serving the same account share a cursor.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and ensures its table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure gmail state schema: %w", err)
	}
	slog.Info("gmail state store initialised")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gmail_ingestion_state (
			account_id        TEXT PRIMARY KEY,
			last_history_id   TEXT NOT NULL DEFAULT '',
			seen_message_ids  JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// ForAccount returns a Store view scoped to one account.
func (s *PostgresStore) ForAccount(accountID string) Store {
	return &accountStore{pg: s, accountID: accountID}
}

type accountStore struct {
	pg        *PostgresStore
	accountID string
}

// Load implements Store.
func (a *accountStore) Load(ctx context.Context) State {
	var (
		st   State
		seen []byte
	)
	err := a.pg.pool.QueryRow(ctx, `
		SELECT last_history_id, seen_message_ids
		FROM gmail_ingestion_state
		WHERE account_id = $1
	`, a.accountID).Scan(&st.LastHistoryID, &seen)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("load gmail state failed", "account", a.accountID, "error", err)
		}
		return State{}
	}

	if err := json.Unmarshal(seen, &st.SeenMessageIDs); err != nil {
		slog.Warn("gmail state seen-set is corrupt, dropping it", "account", a.accountID, "error", err)
		st.SeenMessageIDs = nil
	}
	return st
}

// Save implements Store.
func (a *accountStore) Save(ctx context.Context, st State) error {
	ids := st.SeenMessageIDs
	if ids == nil {
		ids = []string{}
	}
	seen, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode seen ids: %w", err)
	}

	_, err = a.pg.pool.Exec(ctx, `
		INSERT INTO gmail_ingestion_state (account_id, last_history_id, seen_message_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			last_history_id  = EXCLUDED.last_history_id,
			seen_message_ids = EXCLUDED.seen_message_ids,
			updated_at       = NOW()
	`, a.accountID, st.LastHistoryID, string(seen))
	if err != nil {
		return fmt.Errorf("save gmail state: %w", err)
	}
	return nil
}
