// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations in the same shape the server's
// conversation endpoint returns, so an export can be read back as a
// model.Conversation.
//
// NOTE: Only IncludePartial is honored; metadata is always included.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNoConversation
	}
	if !e.options.IncludePartial {
		conv = withoutPartial(conv)
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

// withoutPartial returns a copy of conv without unfinished replies.
func withoutPartial(conv *model.Conversation) *model.Conversation {
	out := conv.Clone()
	out.Messages = out.Messages[:0]
	for _, msg := range conv.Messages {
		if msg.Role == model.RoleAssistant && msg.IsPartial() {
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}
