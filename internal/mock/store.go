// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mock

import (
	"context"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// Interface compliance check.
var _ storage.Store = (*Store)(nil)

// Store is a test double for storage.Store.
// A method whose function field is nil delegates to Base, so a test can
// wrap a real store and override only the calls it wants to break.
type Store struct {
	Base storage.Store

	GetFn                  func(ctx context.Context, id string) (*model.Conversation, error)
	PutFn                  func(ctx context.Context, conv *model.Conversation) error
	UpdateMessageContentFn func(ctx context.Context, id string, index int, content string) error
	SetMessageStatusFn     func(ctx context.Context, id string, index int, status model.MessageStatus) error
	DeleteFn               func(ctx context.Context, id string) error
	ListFn                 func(ctx context.Context) ([]model.Summary, error)
	CloseFn                func() error
}

// Get delegates to GetFn or Base.
func (s *Store) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if s.GetFn != nil {
		return s.GetFn(ctx, id)
	}
	return s.Base.Get(ctx, id)
}

// Put delegates to PutFn or Base.
func (s *Store) Put(ctx context.Context, conv *model.Conversation) error {
	if s.PutFn != nil {
		return s.PutFn(ctx, conv)
	}
	return s.Base.Put(ctx, conv)
}

// UpdateMessageContent delegates to UpdateMessageContentFn or Base.
func (s *Store) UpdateMessageContent(ctx context.Context, id string, index int, content string) error {
	if s.UpdateMessageContentFn != nil {
		return s.UpdateMessageContentFn(ctx, id, index, content)
	}
	return s.Base.UpdateMessageContent(ctx, id, index, content)
}

// SetMessageStatus delegates to SetMessageStatusFn or Base.
func (s *Store) SetMessageStatus(ctx context.Context, id string, index int, status model.MessageStatus) error {
	if s.SetMessageStatusFn != nil {
		return s.SetMessageStatusFn(ctx, id, index, status)
	}
	return s.Base.SetMessageStatus(ctx, id, index, status)
}

// Delete delegates to DeleteFn or Base.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.DeleteFn != nil {
		return s.DeleteFn(ctx, id)
	}
	return s.Base.Delete(ctx, id)
}

// List delegates to ListFn or Base.
func (s *Store) List(ctx context.Context) ([]model.Summary, error) {
	if s.ListFn != nil {
		return s.ListFn(ctx)
	}
	return s.Base.List(ctx)
}

// Close delegates to CloseFn or Base. Returns nil when neither is set.
func (s *Store) Close() error {
	if s.CloseFn != nil {
		return s.CloseFn()
	}
	if s.Base == nil {
		return nil
	}
	return s.Base.Close()
}
