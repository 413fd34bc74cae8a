// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

func sampleConversation() *model.Conversation {
	conv := model.NewConversation("llama3", 0.7, true)
	conv.AppendUserMessage("What is a goroutine?")
	conv.AppendAssistantMessage("A lightweight **thread** managed by the Go runtime.")
	conv.AppendUserMessage("And a channel?")
	conv.AppendPlaceholder()
	conv.Messages[3].Content = "A typed con"
	conv.Messages[3].Status = model.StatusIncomplete
	conv.CreatedAt = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	conv.UpdatedAt = conv.CreatedAt.Add(time.Minute)
	return conv
}

func TestMarkdownExport(t *testing.T) {
	exp := NewMarkdownExporter(nil)
	exp.now = func() time.Time { return time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC) }

	out, err := exp.Export(sampleConversation())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	result := string(out)

	for _, want := range []string{
		"title: What is a goroutine?",
		"model: llama3",
		"temperature: 0.7",
		"messages: 4",
		"exported: 2025-03-02T10:00:00Z",
		"# What is a goroutine?",
		"### You",
		"### Assistant",
		"A lightweight **thread** managed by the Go runtime.",
		"A typed con",
		"*[incomplete reply]*",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("markdown export missing %q\n%s", want, result)
		}
	}
	if !strings.HasPrefix(result, "---\n") {
		t.Error("export should start with frontmatter")
	}
}

func TestMarkdownExport_WithoutPartial(t *testing.T) {
	exp := NewMarkdownExporter(&Options{IncludeMetadata: false})

	out, err := exp.Export(sampleConversation())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	result := string(out)

	if strings.Contains(result, "A typed con") || strings.Contains(result, "[incomplete reply]") {
		t.Error("partial reply should be left out")
	}
	if strings.HasPrefix(result, "---") {
		t.Error("frontmatter should be left out")
	}
	if strings.Contains(result, "<sub>") {
		t.Error("timestamps should be left out")
	}
}

func TestMarkdownExport_EmptyConversation(t *testing.T) {
	if _, err := NewMarkdownExporter(nil).Export(model.NewConversation("llama3", 0.7, true)); err == nil {
		t.Error("exporting a conversation with no messages should fail")
	}
	if _, err := NewMarkdownExporter(nil).Export(nil); err != ErrNoConversation {
		t.Errorf("Export(nil) error = %v, want ErrNoConversation", err)
	}
}

// A title with a newline must not add keys to the frontmatter.
func TestMarkdownExport_TitleInjection(t *testing.T) {
	conv := sampleConversation()
	conv.Title = "Test\nInjection: malicious"

	out, err := NewMarkdownExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	for _, line := range strings.Split(string(out), "\n")[:12] {
		if strings.HasPrefix(line, "Injection:") {
			t.Fatal("newline in title was not escaped")
		}
	}
	if !strings.Contains(string(out), `title: "Test\nInjection: malicious"`) {
		t.Error("title should be quoted and escaped")
	}
}

func TestJSONExport_RoundTrip(t *testing.T) {
	conv := sampleConversation()

	out, err := NewJSONExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var back model.Conversation
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("export is not a conversation: %v", err)
	}
	if back.ID != conv.ID || len(back.Messages) != 4 {
		t.Errorf("round trip = %s with %d messages", back.ID, len(back.Messages))
	}
	if back.Messages[3].Status != model.StatusIncomplete {
		t.Errorf("status = %q, want incomplete", back.Messages[3].Status)
	}
}

func TestJSONExport_WithoutPartial(t *testing.T) {
	conv := sampleConversation()

	out, err := NewJSONExporter(&Options{}).Export(conv)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var back model.Conversation
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Messages) != 3 {
		t.Errorf("got %d messages, want 3", len(back.Messages))
	}
	if len(conv.Messages) != 4 {
		t.Error("export must not modify the conversation")
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"markdown", ".md"},
		{"MD", ".md"},
		{"", ".md"},
		{"json", ".json"},
	}
	for _, tt := range tests {
		exp, err := ForFormat(tt.format, nil)
		if err != nil {
			t.Errorf("ForFormat(%q) error = %v", tt.format, err)
			continue
		}
		if exp.FileExtension() != tt.ext {
			t.Errorf("ForFormat(%q) extension = %q, want %q", tt.format, exp.FileExtension(), tt.ext)
		}
	}
	if _, err := ForFormat("html", nil); err == nil {
		t.Error("ForFormat(html) should fail")
	}
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	conv := sampleConversation()
	conv.Title = "What's a goroutine?/channels"

	path, err := ToFile(conv, NewMarkdownExporter(nil), dir)
	if err != nil {
		t.Fatalf("ToFile failed: %v", err)
	}

	name := filepath.Base(path)
	if !strings.HasPrefix(name, "conversation_What's_a_goroutine--channels_") || !strings.HasSuffix(name, ".md") {
		t.Errorf("filename = %q", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "conversation"},
		{"a/b:c", "a-b-c"},
		{"tab\there", "tab_here"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
