// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/rigchat/internal/model"
)

// Event is a sealed interface over the four relay events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// Started tells the client which conversation the relay is writing to.
type Started struct {
	ConversationID string
}

func (Started) event() {}

// Delta carries newly generated text, never the accumulated content.
type Delta struct {
	Content string
}

func (Delta) event() {}

// Done carries the stored conversation as read after the last write.
type Done struct {
	Conversation *model.Conversation
}

func (Done) event() {}

// Failed ends the stream with an error message.
type Failed struct {
	Message string
}

func (Failed) event() {}

// Interface compliance checks.
var (
	_ Event = Started{}
	_ Event = Delta{}
	_ Event = Done{}
	_ Event = Failed{}
)

// Terminal reports whether ev ends a stream.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case Done, Failed:
		return true
	}
	return false
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// ErrMalformed is returned by Decode for payloads that match no event.
var ErrMalformed = errors.New("event: malformed payload")

// payload is the JSON object carried by one frame. Pointers distinguish
// absent fields from zero values.
type payload struct {
	ConversationID *string             `json:"conversationId,omitempty"`
	Content        *string             `json:"content,omitempty"`
	Done           *bool               `json:"done,omitempty"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Error          *string             `json:"error,omitempty"`
}

// Encode renders ev as its JSON payload.
func Encode(ev Event) ([]byte, error) {
	var p payload
	switch ev := ev.(type) {
	case Started:
		p.ConversationID = &ev.ConversationID
	case Delta:
		done := false
		p.Content = &ev.Content
		p.Done = &done
	case Done:
		if ev.Conversation == nil {
			return nil, fmt.Errorf("event: done without conversation")
		}
		done := true
		p.Done = &done
		p.Conversation = ev.Conversation
	case Failed:
		p.Error = &ev.Message
	default:
		return nil, fmt.Errorf("event: unknown type %T", ev)
	}
	return json.Marshal(p)
}

// Decode parses one JSON payload.
func Decode(data []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case p.Error != nil:
		return Failed{Message: *p.Error}, nil
	case p.Done != nil && *p.Done:
		if p.Conversation == nil {
			return nil, fmt.Errorf("%w: done without conversation", ErrMalformed)
		}
		return Done{Conversation: p.Conversation}, nil
	case p.ConversationID != nil:
		return Started{ConversationID: *p.ConversationID}, nil
	case p.Content != nil:
		return Delta{Content: *p.Content}, nil
	}
	return nil, ErrMalformed
}
