// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// Fragments is a pull iterator over backend output. Next returns io.EOF
// once the done fragment has been delivered.
type Fragments interface {
	Next() (ollama.Fragment, error)
	Close() error
}

// Backend is the inference backend the relay reads from.
type Backend interface {
	// Stream opens a streaming completion.
	Stream(ctx context.Context, req ollama.ChatRequest) (Fragments, error)

	// Complete waits for the whole reply.
	Complete(ctx context.Context, req ollama.ChatRequest) (string, error)
}

// OllamaBackend adapts an ollama.Client to Backend.
type OllamaBackend struct {
	Client *ollama.Client
}

// NewOllamaBackend wraps client.
func NewOllamaBackend(client *ollama.Client) *OllamaBackend {
	return &OllamaBackend{Client: client}
}

// Stream implements Backend.
func (b *OllamaBackend) Stream(ctx context.Context, req ollama.ChatRequest) (Fragments, error) {
	stream, err := b.Client.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Complete implements Backend.
func (b *OllamaBackend) Complete(ctx context.Context, req ollama.ChatRequest) (string, error) {
	resp, err := b.Client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Interface compliance check.
var _ Backend = (*OllamaBackend)(nil)

// chatRequest builds the backend request from the stored history. The
// trailing placeholder and earlier unfinished replies are left out.
func chatRequest(conv *model.Conversation) ollama.ChatRequest {
	msgs := make([]ollama.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role == model.RoleAssistant && m.IsPartial() {
			continue
		}
		msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
	}
	return ollama.ChatRequest{
		Model:    conv.Model,
		Messages: msgs,
		Options:  &ollama.Options{Temperature: conv.Temperature},
	}
}
