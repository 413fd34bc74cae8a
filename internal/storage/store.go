// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the conversation store shared by the relay and the HTTP API.
type Store interface {
	// Get returns a fresh copy of the conversation.
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// Put inserts or replaces the whole conversation. It stamps CreatedAt
	// (when zero) and UpdatedAt on conv itself.
	Put(ctx context.Context, conv *model.Conversation) error

	// UpdateMessageContent replaces the content of one message without
	// rewriting the rest of the conversation.
	UpdateMessageContent(ctx context.Context, id string, index int, content string) error

	// SetMessageStatus updates the completion status of one message.
	SetMessageStatus(ctx context.Context, id string, index int, status model.MessageStatus) error

	Delete(ctx context.Context, id string) error

	// List returns summaries ordered by UpdatedAt, most recent first.
	List(ctx context.Context) ([]model.Summary, error)

	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ConversationError represents a store-level error that callers branch on.
// It can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrNotFound is returned when a conversation doesn't exist.
	ErrNotFound = &ConversationError{Message: "conversation not found"}

	// ErrMessageIndex is returned when a message index is out of range.
	ErrMessageIndex = &ConversationError{Message: "message index out of range"}

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// =============================================================================
// OPEN
// =============================================================================

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverFile     = "file"
)

// Config selects and configures a backend.
type Config struct {
	Driver string

	// Path is the database file (sqlite, bolt) or directory (file).
	Path string

	// URL is the connection string for postgres.
	URL string
}

// Open creates the configured store and brings its schema up to date.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, cfg.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.URL)
	case DriverBolt:
		return OpenBolt(cfg.Path)
	case DriverFile:
		return NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// now is the store clock. Microsecond precision is what postgres keeps, so
// every backend round-trips timestamps exactly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// stamp applies server-side timestamps before a whole-conversation write.
func stamp(conv *model.Conversation) {
	ts := now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = ts
	}
	conv.CreatedAt = normalizeTime(conv.CreatedAt)
	conv.UpdatedAt = ts
	if conv.Messages == nil {
		conv.Messages = make([]model.Message, 0)
	}
	for i := range conv.Messages {
		if conv.Messages[i].Timestamp.IsZero() {
			conv.Messages[i].Timestamp = ts
		}
		conv.Messages[i].Timestamp = normalizeTime(conv.Messages[i].Timestamp)
	}
}

func validateForPut(conv *model.Conversation) error {
	if conv == nil || conv.ID == "" {
		return errors.New("conversation id is required")
	}
	for i, m := range conv.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	return nil
}

func sortSummaries(list []model.Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

// patchMessage applies a targeted update to an in-memory document, used by
// the document backends (bolt, file).
func patchMessage(conv *model.Conversation, index int, fn func(*model.Message)) error {
	if index < 0 || index >= len(conv.Messages) {
		return fmt.Errorf("%w: %d of %d", ErrMessageIndex, index, len(conv.Messages))
	}
	fn(&conv.Messages[index])
	conv.UpdatedAt = now()
	return nil
}
