// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists conversations in a local SQLite database. Messages
// live in their own table so a fragment update touches a single row.
type SQLiteStore struct {
	db            *sql.DB
	schemaVersion uint
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	version, err := migrateSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, schemaVersion: version}, nil
}

// SchemaVersion reports the migration version the database is at.
func (s *SQLiteStore) SchemaVersion() uint {
	return s.schemaVersion
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Get retrieves a conversation and its messages.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		conv             model.Conversation
		stream           int
		created, updated int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, title, model, temperature, stream, created_at, updated_at
		   FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.Model, &conv.Temperature, &stream, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.Stream = stream != 0
	conv.CreatedAt = fromMicros(created)
	conv.UpdatedAt = fromMicros(updated)

	rows, err := tx.QueryContext(ctx,
		`SELECT role, content, status, created_at
		   FROM messages WHERE conversation_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = make([]model.Message, 0)
	for rows.Next() {
		var (
			msg    model.Message
			role   string
			status string
			ts     int64
		)
		if err := rows.Scan(&role, &msg.Content, &status, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Status, _ = model.ParseMessageStatus(status)
		msg.Timestamp = fromMicros(ts)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// List returns summaries ordered by most recent update.
func (s *SQLiteStore) List(ctx context.Context) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.model, c.temperature, c.stream, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		  FROM conversations c
		 ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]model.Summary, 0)
	for rows.Next() {
		var (
			sum              model.Summary
			stream           int
			created, updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &sum.Temperature, &stream, &created, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.Stream = stream != 0
		sum.CreatedAt = fromMicros(created)
		sum.UpdatedAt = fromMicros(updated)
		list = append(list, sum)
	}
	return list, rows.Err()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Put replaces the conversation row and all of its messages in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, conv *model.Conversation) error {
	if err := validateForPut(conv); err != nil {
		return err
	}
	stamp(conv)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, temperature, stream, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			temperature = excluded.temperature,
			stream = excluded.stream,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.Model, conv.Temperature, boolInt(conv.Stream),
		micros(conv.CreatedAt), micros(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, idx, role, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range conv.Messages {
		if _, err := stmt.ExecContext(ctx, conv.ID, i, string(m.Role), m.Content, string(m.Status), micros(m.Timestamp)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// UpdateMessageContent rewrites one message row.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id string, index int, content string) error {
	return s.updateMessage(ctx, id, index, `UPDATE messages SET content = ? WHERE conversation_id = ? AND idx = ?`, content)
}

// SetMessageStatus updates the status of one message row.
func (s *SQLiteStore) SetMessageStatus(ctx context.Context, id string, index int, status model.MessageStatus) error {
	return s.updateMessage(ctx, id, index, `UPDATE messages SET status = ? WHERE conversation_id = ? AND idx = ?`, string(status))
}

func (s *SQLiteStore) updateMessage(ctx context.Context, id string, index int, query string, value any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, value, id, index)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missing(ctx, tx, id, index)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, micros(now()), id); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

// missing tells apart an unknown conversation from a bad index.
func (s *SQLiteStore) missing(ctx context.Context, tx *sql.Tx, id string, index int) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %d", ErrMessageIndex, index)
}

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
