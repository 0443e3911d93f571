// Copyright 2025 KisanMitra
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

package curator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// ConversationHistory is the bounded window of prior turns the router
// consults to resolve references. Newest-first ordering.
type ConversationHistory interface {
	AppendTurn(ctx context.Context, entry *HistoryEntry) error
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]*HistoryEntry, error)
}

// PostgresHistory persists turn history in Postgres. One row per turn with
// the task outcomes embedded as JSONB.
type PostgresHistory struct {
	db *sql.DB
}

// NewPostgresHistory opens the database at the given URL and ensures the
// history table exists.
func NewPostgresHistory(databaseURL string) (*PostgresHistory, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	h := &PostgresHistory{db: db}
	if err := h.ensureSchema(); err != nil {
		return nil, err
	}
	return h, nil
}

// NewPostgresHistoryFromDB wraps an existing handle. Used by tests.
func NewPostgresHistoryFromDB(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// Close releases the connection pool.
func (h *PostgresHistory) Close() error {
	return h.db.Close()
}

// IsHealthy reports whether the database answers a ping.
func (h *PostgresHistory) IsHealthy(ctx context.Context) bool {
	return h.db.PingContext(ctx) == nil
}

func (h *PostgresHistory) ensureSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_turns (
			id              BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_id         TEXT NOT NULL UNIQUE,
			text            TEXT NOT NULL,
			image_ref       TEXT,
			response_text   TEXT,
			tasks           JSONB NOT NULL DEFAULT '[]',
			received_at     TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_turns_conv
			ON conversation_turns (conversation_id, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return nil
}

func (h *PostgresHistory) AppendTurn(ctx context.Context, entry *HistoryEntry) error {
	tasksJSON, err := json.Marshal(entry.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks for turn %s: %w", entry.Turn.TurnID, err)
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO conversation_turns
			(conversation_id, turn_id, text, image_ref, response_text, tasks, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Turn.ConversationID, entry.Turn.TurnID, entry.Turn.Text,
		entry.Turn.ImageRef, entry.ResponseText, tasksJSON, entry.Turn.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to append turn %s: %w", entry.Turn.TurnID, err)
	}
	return nil
}

func (h *PostgresHistory) RecentTurns(ctx context.Context, conversationID string, limit int) ([]*HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT turn_id, text, image_ref, response_text, tasks, received_at
		FROM conversation_turns
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var (
			entry     HistoryEntry
			imageRef  sql.NullString
			respText  sql.NullString
			tasksJSON []byte
		)
		if err := rows.Scan(&entry.Turn.TurnID, &entry.Turn.Text, &imageRef,
			&respText, &tasksJSON, &entry.Turn.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entry.Turn.ConversationID = conversationID
		entry.Turn.ImageRef = imageRef.String
		entry.ResponseText = respText.String
		if len(tasksJSON) > 0 {
			if err := json.Unmarshal(tasksJSON, &entry.Tasks); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tasks for turn %s: %w", entry.Turn.TurnID, err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// InMemoryHistory keeps turn history per conversation in memory. Used when
// no Postgres URL is configured and by tests.
type InMemoryHistory struct {
	mu      sync.RWMutex
	entries map[string][]*HistoryEntry
}

// NewInMemoryHistory creates an empty in-memory history.
func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{entries: make(map[string][]*HistoryEntry)}
}

func (h *InMemoryHistory) AppendTurn(ctx context.Context, entry *HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[entry.Turn.ConversationID] = append(h.entries[entry.Turn.ConversationID], entry)
	return nil
}

func (h *InMemoryHistory) RecentTurns(ctx context.Context, conversationID string, limit int) ([]*HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := h.entries[conversationID]
	if len(all) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Newest first, matching the Postgres implementation.
	result := make([]*HistoryEntry, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		result = append(result, all[i])
	}
	return result, nil
}
