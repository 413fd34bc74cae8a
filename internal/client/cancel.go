// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the cancellation cause of a user-initiated cancel.
var ErrCancelled = errors.New("request cancelled")

// =============================================================================
// CANCELLER (THREAD-SAFE)
// =============================================================================

// Canceller hands out one cancellation token per send. The same token must
// reach the outbound request, the event-stream read and the poll loop, so
// a single Cancel stops all three.
//
// IMPORTANT: use it as a pointer. Bubble Tea copies models on every Update
// and a copied mutex guards nothing.
type Canceller struct {
	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// NewCanceller creates a Canceller with no send in flight.
func NewCanceller() *Canceller {
	return &Canceller{}
}

// Start returns the token for a new send. A token from an earlier Start is
// cancelled first.
func (c *Canceller) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(ErrCancelled)
	}
	c.cancel = cancel
	return ctx
}

// Cancel cancels the current send with ErrCancelled. Safe to call multiple
// times or with no send in flight.
func (c *Canceller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(ErrCancelled)
		c.cancel = nil
	}
}

// Clear releases the current token once its send has returned.
func (c *Canceller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(nil) // Always cancel to prevent context leaks
		c.cancel = nil
	}
}

// Active reports whether a token is outstanding.
func (c *Canceller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Cancelled reports whether ctx was cancelled by a Canceller.
func Cancelled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCancelled)
}
