// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigchat/internal/util"
)

// Defaults applied to conversations created without explicit settings.
const (
	DefaultModel       = "gemma3:12b"
	DefaultTemperature = 0.7
	DefaultTitle       = "New Conversation"

	MinTemperature = 0.0
	MaxTemperature = 2.0

	// MaxTitleRunes caps titles derived from the first user message.
	MaxTitleRunes = 50
)

// ErrInvalidTemperature is returned for temperatures outside [0, 2].
var ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")

// ValidateTemperature checks t against the sampling range.
func ValidateTemperature(t float64) error {
	if t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%w: got %g", ErrInvalidTemperature, t)
	}
	return nil
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat history together with its generation settings.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewConversation creates an empty conversation with a fresh ID.
// An empty model falls back to DefaultModel.
func NewConversation(modelName string, temperature float64, stream bool) *Conversation {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Conversation{
		ID:          NewConversationID(),
		Title:       DefaultTitle,
		Model:       modelName,
		Temperature: temperature,
		Stream:      stream,
		Messages:    make([]Message, 0),
	}
}

// NewConversationID returns a random conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// ValidConversationID reports whether id looks like one produced by NewConversationID.
func ValidConversationID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AppendUserMessage appends a user turn and returns its index. The first
// message of a conversation also names it.
func (c *Conversation) AppendUserMessage(content string) int {
	c.Messages = append(c.Messages, NewUserMessage(content))
	if len(c.Messages) == 1 {
		c.Title = DeriveTitle(content)
	}
	return len(c.Messages) - 1
}

// AppendPlaceholder appends an empty streaming assistant message and
// returns its index.
func (c *Conversation) AppendPlaceholder() int {
	c.Messages = append(c.Messages, NewPlaceholder())
	return len(c.Messages) - 1
}

// AppendAssistantMessage appends a finished assistant turn.
func (c *Conversation) AppendAssistantMessage(content string) int {
	c.Messages = append(c.Messages, Message{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return len(c.Messages) - 1
}

// LastMessage returns the trailing message, or false if there is none.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// HasActiveStream reports whether the trailing message is still streaming.
func (c *Conversation) HasActiveStream() bool {
	last, ok := c.LastMessage()
	return ok && last.Status == StatusStreaming
}

// Summary returns the list projection of the conversation.
func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		Model:        c.Model,
		Temperature:  c.Temperature,
		Stream:       c.Stream,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// DeriveTitle builds a title from the first user message: NFC-normalised,
// flattened to one line and cut to MaxTitleRunes.
func DeriveTitle(message string) string {
	title := util.SingleLine(norm.NFC.String(message))
	title = util.TruncateRunesNoEllipsis(title, MaxTitleRunes)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// =============================================================================
// SUMMARY TYPE
// =============================================================================

// Summary is the lightweight listing view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature"`
	Stream       bool      `json:"stream"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
