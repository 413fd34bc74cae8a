// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// RENDER BUFFER
// =============================================================================

// RenderBuffer coalesces transcript renders for the Bubble Tea loop.
//
// The transcript calls Store on every delta and every poll, from the send
// goroutines and with its own lock held. Store only records the latest
// conversation; the UI picks it up on its next frame with Flush, capped at
// maxFPS. Renders between two frames collapse into one.
type RenderBuffer struct {
	mu        sync.Mutex
	latest    *model.Conversation
	dirty     bool
	pending   int
	lastFlush time.Time

	maxFPS      int
	minInterval time.Duration
}

// NewRenderBuffer creates a buffer capped at 30 frames per second.
func NewRenderBuffer() *RenderBuffer {
	return NewRenderBufferWithFPS(30)
}

// NewRenderBufferWithFPS creates a buffer with a custom frame cap.
// Values outside 1-60 fall back to 30.
func NewRenderBufferWithFPS(maxFPS int) *RenderBuffer {
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = 30
	}
	return &RenderBuffer{
		maxFPS:      maxFPS,
		minInterval: time.Second / time.Duration(maxFPS),
		lastFlush:   time.Now(),
	}
}

// Store records conv as the conversation to draw next. It never blocks on
// the UI, so it is safe as a client.RenderFunc. conv may be nil.
func (b *RenderBuffer) Store(conv *model.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = conv
	b.dirty = true
	b.pending++
}

// Flush returns the latest conversation if one was stored since the last
// flush and the frame interval has passed.
func (b *RenderBuffer) Flush() (*model.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty || time.Since(b.lastFlush) < b.minInterval {
		return nil, false
	}
	return b.takeLocked()
}

// ForceFlush returns the latest stored conversation regardless of the
// frame interval. Use it when a send ends so the final state is drawn.
func (b *RenderBuffer) ForceFlush() (*model.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return nil, false
	}
	return b.takeLocked()
}

func (b *RenderBuffer) takeLocked() (*model.Conversation, bool) {
	conv := b.latest
	b.latest = nil
	b.dirty = false
	b.pending = 0
	b.lastFlush = time.Now()
	return conv, true
}

// Pending returns the number of renders stored since the last flush.
func (b *RenderBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// =============================================================================
// FRAME TICK
// =============================================================================

// frameTickCmd schedules the next frame while a send is running.
func (b *RenderBuffer) frameTickCmd() tea.Cmd {
	return tea.Tick(b.minInterval, func(t time.Time) tea.Msg {
		return FrameTickMsg{Time: t}
	})
}
