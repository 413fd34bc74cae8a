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
	"strings"
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON document per conversation in BaseDir.
//
// A single mutex serialises every read-modify-write so a targeted update
// never races a whole-document Put.
type FileStore struct {
	// BaseDir is the directory holding <id>.json files.
	BaseDir string

	mu sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Get retrieves a conversation by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// List returns summaries of all stored conversations, most recent first.
// Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Summary{}, nil
		}
		return nil, err
	}

	list := make([]model.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		conv, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		list = append(list, conv.Summary())
	}

	sortSummaries(list)
	return list, nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Put persists the whole conversation.
func (s *FileStore) Put(ctx context.Context, conv *model.Conversation) error {
	if err := validateForPut(conv); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(conv)
	return s.save(conv)
}

// UpdateMessageContent replaces the content of one message.
func (s *FileStore) UpdateMessageContent(ctx context.Context, id string, index int, content string) error {
	return s.patch(id, index, func(m *model.Message) { m.Content = content })
}

// SetMessageStatus updates the completion status of one message.
func (s *FileStore) SetMessageStatus(ctx context.Context, id string, index int, status model.MessageStatus) error {
	return s.patch(id, index, func(m *model.Message) { m.Status = status })
}

func (s *FileStore) patch(id string, index int, fn func(*model.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(id)
	if err != nil {
		return err
	}
	if err := patchMessage(conv, index, fn); err != nil {
		return err
	}
	return s.save(conv)
}

// Delete removes a conversation by ID.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.filePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Close is a no-op; files are written synchronously.
func (s *FileStore) Close() error { return nil }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileStore) load(id string) (*model.Conversation, error) {
	path, err := s.filePath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &conv, nil
}

func (s *FileStore) save(conv *model.Conversation) error {
	path, err := s.filePath(conv.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0600)
}

// SECURITY: ids come from request paths, keep them inside BaseDir.
func (s *FileStore) filePath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", ErrNotFound
	}
	return filepath.Join(s.BaseDir, id+".json"), nil
}
