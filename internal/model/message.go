// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE STATUS
// =============================================================================

// MessageStatus tracks whether an assistant message reached its end.
// The zero value means complete so user messages and older records need
// no status at all.
type MessageStatus string

const (
	StatusComplete   MessageStatus = ""
	StatusStreaming  MessageStatus = "streaming"
	StatusIncomplete MessageStatus = "incomplete"
)

// String returns the status name, "complete" for the zero value.
func (s MessageStatus) String() string {
	if s == StatusComplete {
		return "complete"
	}
	return string(s)
}

// ParseMessageStatus converts a stored status string back into a MessageStatus.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch s {
	case "", "complete":
		return StatusComplete, nil
	case string(StatusStreaming):
		return StatusStreaming, nil
	case string(StatusIncomplete):
		return StatusIncomplete, nil
	default:
		return StatusComplete, fmt.Errorf("unknown message status %q", s)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn in a conversation.
//
// Content of the trailing assistant message only ever grows while its
// Status is StatusStreaming.
type Message struct {
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status,omitempty"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewPlaceholder creates the empty assistant message a relay fills in.
func NewPlaceholder() Message {
	return Message{Role: RoleAssistant, Timestamp: time.Now().UTC(), Status: StatusStreaming}
}

// IsPartial reports whether the message is unfinished model output.
func (m Message) IsPartial() bool {
	return m.Status == StatusStreaming || m.Status == StatusIncomplete
}
