// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/puppylab/miniagent/pkg/llm"
)

// SQLiteStore keeps histories in a SQLite table.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens (or creates) the database file and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY between concurrent tasks.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore wraps an existing handle and ensures the schema. The caller
// keeps ownership of db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_json TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			failure INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure history schema: %w", err)
		}
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg Message) error {
	msg = prepare(sessionID, msg)
	var toolCall []byte
	if msg.ToolCall != nil {
		var err error
		if toolCall, err = json.Marshal(msg.ToolCall); err != nil {
			return fmt.Errorf("failed to marshal tool call: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages (
			id, session_id, seq, role, content, tool_call_json, tool_call_id, failure, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SessionID,
		msg.Seq,
		string(msg.Role),
		msg.Content,
		string(toolCall),
		msg.ToolCallID,
		boolToInt(msg.Failure),
		msg.CreatedAt.UnixNano(),
	)
	return err
}

// Messages implements Store.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, tool_call_json, tool_call_id, failure, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY seq ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg      Message
			role     string
			toolCall string
			failure  int
			created  int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &role, &msg.Content, &toolCall, &msg.ToolCallID, &failure, &created); err != nil {
			return nil, err
		}
		msg.Role = llm.Role(role)
		msg.Failure = failure != 0
		msg.CreatedAt = time.Unix(0, created).UTC()
		if toolCall != "" {
			var tc llm.ToolCall
			if err := json.Unmarshal([]byte(toolCall), &tc); err != nil {
				return nil, fmt.Errorf("decode tool call of message %s: %w", msg.ID, err)
			}
			msg.ToolCall = &tc
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Sessions implements Store.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM session_messages ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
