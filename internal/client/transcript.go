// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"errors"
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
)

// ErrSendInProgress is returned when a Transcript already has a send running.
var ErrSendInProgress = errors.New("a message is already being sent")

// RenderFunc receives the rendered conversation after every change. It is
// called with the Transcript locked, so renders arrive in order; it must
// not call back into the Transcript. The conversation may be nil.
type RenderFunc func(conv *model.Conversation)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the client's rendered view of one conversation. Pushed
// deltas and polled snapshots both write to it; all writes are serialised
// and the trailing reply only ever grows while a send is active.
type Transcript struct {
	mu       sync.Mutex
	conv     *model.Conversation
	onRender RenderFunc

	// Send state.
	active    bool
	streaming bool
	saved     *model.Conversation
	reply     int    // index of the optimistic placeholder
	pushed    string // content accumulated from deltas
}

// NewTranscript creates a transcript showing conv (nil for a new
// conversation). onRender may be nil.
func NewTranscript(conv *model.Conversation, onRender RenderFunc) *Transcript {
	return &Transcript{conv: conv.Clone(), onRender: onRender, reply: -1}
}

// Snapshot returns a copy of the rendered conversation.
func (t *Transcript) Snapshot() *model.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv.Clone()
}

// ID returns the conversation id, empty until the server assigned one.
func (t *Transcript) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conv == nil {
		return ""
	}
	return t.conv.ID
}

// Active reports whether a send is running.
func (t *Transcript) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Reply returns the rendered content of the optimistic reply, or "" when no
// streaming send is running.
func (t *Transcript) Reply() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.streaming || t.reply < 0 || t.reply >= len(t.conv.Messages) {
		return ""
	}
	return t.conv.Messages[t.reply].Content
}

// Reset shows another conversation. It fails while a send is running.
func (t *Transcript) Reset(conv *model.Conversation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return ErrSendInProgress
	}
	t.conv = conv.Clone()
	t.render()
	return nil
}

// =============================================================================
// SEND LIFECYCLE
// =============================================================================

// begin marks a send as running and saves the state to roll back to. With
// optimistic set it renders the user message and an empty reply at once.
func (t *Transcript) begin(req model.SendRequest, optimistic bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return ErrSendInProgress
	}

	t.active = true
	t.streaming = optimistic
	t.saved = t.conv.Clone()
	t.pushed = ""
	t.reply = -1
	if !optimistic {
		return nil
	}

	conv := t.conv.Clone()
	if conv == nil {
		conv = model.NewConversation(req.Model, model.DefaultTemperature, true)
		conv.ID = ""
	}
	req.ApplyTo(conv)
	conv.AppendUserMessage(req.Message)
	t.reply = conv.AppendPlaceholder()
	t.conv = conv
	t.render()
	return nil
}

// setID records the id the server assigned to a new conversation.
func (t *Transcript) setID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && t.conv != nil && t.conv.ID == "" {
		t.conv.ID = id
	}
}

// appendDelta is the push path: extend the reply by one delta.
func (t *Transcript) appendDelta(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.streaming || t.reply < 0 {
		return
	}
	t.pushed += delta
	if t.pushed == "" {
		return
	}
	if msg := &t.conv.Messages[t.reply]; len(t.pushed) > len(msg.Content) {
		msg.Content = t.pushed
		t.render()
	}
}

// applySnapshot is the poll path: adopt the stored conversation wholesale,
// except that the reply keeps the longest content seen from either path.
// Snapshots of another conversation, or taken before the user message was
// stored, are ignored.
func (t *Transcript) applySnapshot(snap *model.Conversation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.streaming || t.reply < 0 || snap == nil {
		return
	}
	if snap.ID != t.conv.ID || len(snap.Messages) <= t.reply {
		return
	}

	next := snap.Clone()
	msg := &next.Messages[t.reply]
	if msg.Role != model.RoleAssistant {
		return
	}
	rendered := t.conv.Messages[t.reply].Content
	if len(rendered) > len(msg.Content) {
		msg.Content = rendered
	}
	if len(t.pushed) > len(msg.Content) {
		msg.Content = t.pushed
	}
	t.conv = next
	t.render()
}

// finish ends the send with the server's conversation.
func (t *Transcript) finish(final *model.Conversation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.end()
	if final != nil {
		t.conv = final.Clone()
	}
	t.render()
}

// rollback ends the send and restores the pre-send conversation.
func (t *Transcript) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	optimistic := t.streaming
	t.conv = t.saved
	t.end()
	if optimistic {
		t.render()
	}
}

func (t *Transcript) end() {
	t.active = false
	t.streaming = false
	t.saved = nil
	t.pushed = ""
	t.reply = -1
}

func (t *Transcript) render() {
	if t.onRender != nil {
		t.onRender(t.conv.Clone())
	}
}
