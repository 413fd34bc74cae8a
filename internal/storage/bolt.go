// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jeranaias/rigchat/internal/model"
)

var conversationsBucket = []byte("conversations")

// =============================================================================
// BOLT STORE
// =============================================================================

// BoltStore keeps each conversation as a JSON value in a single bbolt file.
// bbolt serialises writers itself, so no extra locking is needed.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Get retrieves a conversation by ID.
func (s *BoltStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv *model.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		conv, err = readConversation(tx.Bucket(conversationsBucket), id)
		return err
	})
	return conv, err
}

// List returns summaries, most recent first. Malformed entries are skipped.
func (s *BoltStore) List(ctx context.Context) ([]model.Summary, error) {
	list := make([]model.Summary, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv model.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return nil
			}
			list = append(list, conv.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSummaries(list)
	return list, nil
}

// Put persists the whole conversation.
func (s *BoltStore) Put(ctx context.Context, conv *model.Conversation) error {
	if err := validateForPut(conv); err != nil {
		return err
	}
	stamp(conv)
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeConversation(tx.Bucket(conversationsBucket), conv)
	})
}

// UpdateMessageContent replaces the content of one message.
func (s *BoltStore) UpdateMessageContent(ctx context.Context, id string, index int, content string) error {
	return s.patch(id, index, func(m *model.Message) { m.Content = content })
}

// SetMessageStatus updates the completion status of one message.
func (s *BoltStore) SetMessageStatus(ctx context.Context, id string, index int, status model.MessageStatus) error {
	return s.patch(id, index, func(m *model.Message) { m.Status = status })
}

func (s *BoltStore) patch(id string, index int, fn func(*model.Message)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		conv, err := readConversation(b, id)
		if err != nil {
			return err
		}
		if err := patchMessage(conv, index, fn); err != nil {
			return err
		}
		return writeConversation(b, conv)
	})
}

// Delete removes a conversation by ID.
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Close closes the bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readConversation(b *bolt.Bucket, id string) (*model.Conversation, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	var conv model.Conversation
	if err := json.Unmarshal(v, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

func writeConversation(b *bolt.Bucket, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return b.Put([]byte(conv.ID), data)
}
