// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation_Defaults(t *testing.T) {
	conv := NewConversation("", DefaultTemperature, false)

	if conv.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", conv.Model, DefaultModel)
	}
	if conv.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", conv.Title, DefaultTitle)
	}
	if !ValidConversationID(conv.ID) {
		t.Errorf("ID %q is not a valid conversation id", conv.ID)
	}
	if conv.Messages == nil || len(conv.Messages) != 0 {
		t.Errorf("Messages = %v, want empty non-nil slice", conv.Messages)
	}
}

func TestConversation_AppendUserMessageSetsTitleOnce(t *testing.T) {
	conv := NewConversation("llama3", 0.2, true)

	conv.AppendUserMessage("What is the capital\nof France?")
	if conv.Title != "What is the capital of France?" {
		t.Errorf("Title = %q", conv.Title)
	}

	conv.AppendUserMessage("And of Spain?")
	if conv.Title != "What is the capital of France?" {
		t.Errorf("Title changed after second message: %q", conv.Title)
	}
}

func TestConversation_AppendPlaceholder(t *testing.T) {
	conv := NewConversation("", DefaultTemperature, true)
	conv.AppendUserMessage("hi")
	idx := conv.AppendPlaceholder()

	if idx != 1 {
		t.Fatalf("AppendPlaceholder() = %d, want 1", idx)
	}
	msg := conv.Messages[idx]
	if msg.Role != RoleAssistant || msg.Content != "" || msg.Status != StatusStreaming {
		t.Errorf("placeholder = %+v", msg)
	}
	if !conv.HasActiveStream() {
		t.Error("HasActiveStream() = false, want true")
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	conv := NewConversation("", DefaultTemperature, true)
	conv.AppendUserMessage("hello")

	clone := conv.Clone()
	clone.Messages[0].Content = "changed"
	clone.AppendPlaceholder()

	if conv.Messages[0].Content != "hello" {
		t.Errorf("original content mutated: %q", conv.Messages[0].Content)
	}
	if len(conv.Messages) != 1 {
		t.Errorf("original has %d messages, want 1", len(conv.Messages))
	}

	var nilConv *Conversation
	if nilConv.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", DefaultTitle},
		{"whitespace only", " \n\t", DefaultTitle},
		{"short", "Hello", "Hello"},
		{"long", strings.Repeat("a", 80), strings.Repeat("a", MaxTitleRunes)},
		{"combining marks normalised", "cafe\u0301", "caf\u00e9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveTitle(tc.input); got != tc.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateTemperature(t *testing.T) {
	for _, temp := range []float64{0, 0.7, 2} {
		if err := ValidateTemperature(temp); err != nil {
			t.Errorf("ValidateTemperature(%g) error = %v", temp, err)
		}
	}
	for _, temp := range []float64{-0.1, 2.01} {
		if err := ValidateTemperature(temp); !errors.Is(err, ErrInvalidTemperature) {
			t.Errorf("ValidateTemperature(%g) error = %v, want ErrInvalidTemperature", temp, err)
		}
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestParseMessageStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    MessageStatus
		wantErr bool
	}{
		{"", StatusComplete, false},
		{"complete", StatusComplete, false},
		{"streaming", StatusStreaming, false},
		{"incomplete", StatusIncomplete, false},
		{"bogus", StatusComplete, true},
	}

	for _, tc := range tests {
		got, err := ParseMessageStatus(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseMessageStatus(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseMessageStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRole_DisplayName(t *testing.T) {
	if RoleUser.DisplayName() != "You" || RoleAssistant.DisplayName() != "Assistant" {
		t.Error("unexpected display names")
	}
	if Role("system").Valid() {
		t.Error("system role should not be valid")
	}
}

// =============================================================================
// SEND REQUEST TESTS
// =============================================================================

func TestSendRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SendRequest
		wantErr error
	}{
		{"ok", SendRequest{Message: "hi"}, nil},
		{"empty", SendRequest{Message: ""}, ErrEmptyMessage},
		{"blank", SendRequest{Message: "  \n"}, ErrEmptyMessage},
		{"temperature too high", SendRequest{Message: "hi", Temperature: Float(3)}, ErrInvalidTemperature},
		{"temperature zero", SendRequest{Message: "hi", Temperature: Float(0)}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr == nil && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSendRequest_ApplyTo(t *testing.T) {
	conv := NewConversation("a", 0.7, false)

	SendRequest{Message: "x"}.ApplyTo(conv)
	if conv.Model != "a" || conv.Temperature != 0.7 || conv.Stream {
		t.Errorf("empty overrides changed conversation: %+v", conv)
	}

	SendRequest{Message: "x", Model: "b", Temperature: Float(0), Stream: Bool(true)}.ApplyTo(conv)
	if conv.Model != "b" || conv.Temperature != 0 || !conv.Stream {
		t.Errorf("overrides not applied: %+v", conv)
	}
}

func TestConversationPatch(t *testing.T) {
	tests := []struct {
		name    string
		patch   ConversationPatch
		wantErr error
	}{
		{"empty patch", ConversationPatch{}, nil},
		{"blank title", ConversationPatch{Title: String("  ")}, ErrEmptyTitle},
		{"blank model", ConversationPatch{Model: String("")}, ErrEmptyModel},
		{"bad temperature", ConversationPatch{Temperature: Float(-1)}, ErrInvalidTemperature},
		{"full", ConversationPatch{Title: String("x"), Model: String("m"), Temperature: Float(1), Stream: Bool(true)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	conv := NewConversation("llama3", 0.7, false)
	ConversationPatch{
		Title:  String("  Trip\nplanning  "),
		Model:  String(" mistral "),
		Stream: Bool(true),
	}.ApplyTo(conv)

	if conv.Title != "Trip planning" {
		t.Errorf("Title = %q, want %q", conv.Title, "Trip planning")
	}
	if conv.Model != "mistral" {
		t.Errorf("Model = %q, want %q", conv.Model, "mistral")
	}
	if conv.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want unchanged 0.7", conv.Temperature)
	}
	if !conv.Stream {
		t.Error("Stream = false, want true")
	}
}
