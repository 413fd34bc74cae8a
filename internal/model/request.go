// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"

	"github.com/jeranaias/rigchat/internal/util"
)

// ErrEmptyMessage is returned when a send carries no text.
var ErrEmptyMessage = errors.New("message is required")

// SendRequest is the body of POST /api/chat.
//
// Nil Temperature and Stream mean "keep the conversation's setting".
type SendRequest struct {
	ConversationID string   `json:"conversationId,omitempty"`
	Message        string   `json:"message"`
	Model          string   `json:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	Stream         *bool    `json:"stream,omitempty"`
}

// Validate checks the request before any state is touched.
func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if r.Temperature != nil {
		if err := ValidateTemperature(*r.Temperature); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTo copies the request's overrides onto conv.
func (r SendRequest) ApplyTo(conv *Conversation) {
	if r.Model != "" {
		conv.Model = r.Model
	}
	if r.Temperature != nil {
		conv.Temperature = *r.Temperature
	}
	if r.Stream != nil {
		conv.Stream = *r.Stream
	}
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for optional request fields.
func Bool(v bool) *bool { return &v }

// =============================================================================
// CONVERSATION PATCH
// =============================================================================

// Patch validation errors.
var (
	ErrEmptyTitle = errors.New("title cannot be empty")
	ErrEmptyModel = errors.New("model cannot be empty")
)

// ConversationPatch is the body of POST and PUT /api/conversations.
// Nil fields are left unchanged.
type ConversationPatch struct {
	Title       *string  `json:"title,omitempty"`
	Model       *string  `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      *bool    `json:"stream,omitempty"`
}

// Validate checks the patch before it is applied.
func (p ConversationPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrEmptyTitle
	}
	if p.Model != nil && strings.TrimSpace(*p.Model) == "" {
		return ErrEmptyModel
	}
	if p.Temperature != nil {
		return ValidateTemperature(*p.Temperature)
	}
	return nil
}

// ApplyTo copies the set fields onto conv.
func (p ConversationPatch) ApplyTo(conv *Conversation) {
	if p.Title != nil {
		conv.Title = util.TruncateRunesNoEllipsis(util.SingleLine(*p.Title), MaxTitleRunes)
	}
	if p.Model != nil {
		conv.Model = strings.TrimSpace(*p.Model)
	}
	if p.Temperature != nil {
		conv.Temperature = *p.Temperature
	}
	if p.Stream != nil {
		conv.Stream = *p.Stream
	}
}

// String returns a pointer to v, for optional patch fields.
func String(v string) *string { return &v }
