// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// POSTGRES STORE
// =============================================================================

// PostgresStore persists conversations in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool          *pgxpool.Pool
	schemaVersion uint
}

// OpenPostgres migrates the database at databaseURL and connects a pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store: database url is required")
	}
	version, err := RunMigrations(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, schemaVersion: version}, nil
}

// SchemaVersion reports the migration version the database is at.
func (s *PostgresStore) SchemaVersion() uint {
	return s.schemaVersion
}

// NewPool creates and pings a connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Get retrieves a conversation and its messages.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var conv model.Conversation
	err = tx.QueryRow(ctx,
		`SELECT id, title, model, temperature, stream, created_at, updated_at
		   FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.Title, &conv.Model, &conv.Temperature, &conv.Stream, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()

	rows, err := tx.Query(ctx,
		`SELECT role, content, status, created_at
		   FROM messages WHERE conversation_id = $1 ORDER BY idx`, id)
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
		)
		if err := rows.Scan(&role, &msg.Content, &status, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Status, _ = model.ParseMessageStatus(status)
		msg.Timestamp = msg.Timestamp.UTC()
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// List returns summaries ordered by most recent update.
func (s *PostgresStore) List(ctx context.Context) ([]model.Summary, error) {
	rows, err := s.pool.Query(ctx, `
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
		var sum model.Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &sum.Temperature, &sum.Stream, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		sum.UpdatedAt = sum.UpdatedAt.UTC()
		list = append(list, sum)
	}
	return list, rows.Err()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Put replaces the conversation row and all of its messages in one transaction.
func (s *PostgresStore) Put(ctx context.Context, conv *model.Conversation) error {
	if err := validateForPut(conv); err != nil {
		return err
	}
	stamp(conv)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, title, model, temperature, stream, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				model = EXCLUDED.model,
				temperature = EXCLUDED.temperature,
				stream = EXCLUDED.stream,
				updated_at = EXCLUDED.updated_at`,
			conv.ID, conv.Title, conv.Model, conv.Temperature, conv.Stream, conv.CreatedAt, conv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conv.ID); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}

		batch := &pgx.Batch{}
		for i, m := range conv.Messages {
			batch.Queue(`
				INSERT INTO messages (conversation_id, idx, role, content, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				conv.ID, i, string(m.Role), m.Content, string(m.Status), m.Timestamp)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// UpdateMessageContent rewrites one message row.
func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id string, index int, content string) error {
	return s.updateMessage(ctx, id, index, `UPDATE messages SET content = $1 WHERE conversation_id = $2 AND idx = $3`, content)
}

// SetMessageStatus updates the status of one message row.
func (s *PostgresStore) SetMessageStatus(ctx context.Context, id string, index int, status model.MessageStatus) error {
	return s.updateMessage(ctx, id, index, `UPDATE messages SET status = $1 WHERE conversation_id = $2 AND idx = $3`, string(status))
}

func (s *PostgresStore) updateMessage(ctx context.Context, id string, index int, query string, value any) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, value, id, index)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %d", ErrMessageIndex, index)
		}
		if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, now(), id); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

// Delete removes a conversation; messages cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
