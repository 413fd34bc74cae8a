// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mock provides test doubles for rigchat interfaces using function fields.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/relay"
)

// Interface compliance checks.
var (
	_ relay.Backend   = (*Backend)(nil)
	_ relay.Fragments = (*Fragments)(nil)
)

// Backend is a test double for relay.Backend.
// Set StreamFn or CompleteFn before calling the matching method.
type Backend struct {
	StreamFn   func(ctx context.Context, req ollama.ChatRequest) (relay.Fragments, error)
	CompleteFn func(ctx context.Context, req ollama.ChatRequest) (string, error)
}

// Stream delegates to StreamFn.
func (b *Backend) Stream(ctx context.Context, req ollama.ChatRequest) (relay.Fragments, error) {
	return b.StreamFn(ctx, req)
}

// Complete delegates to CompleteFn.
func (b *Backend) Complete(ctx context.Context, req ollama.ChatRequest) (string, error) {
	return b.CompleteFn(ctx, req)
}

// Fragments is a test double for relay.Fragments.
// NextFn panics when nil to catch missing setup. CloseFn is nil-safe.
type Fragments struct {
	NextFn  func() (ollama.Fragment, error)
	CloseFn func() error
}

// Next delegates to NextFn.
func (f *Fragments) Next() (ollama.Fragment, error) {
	return f.NextFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (f *Fragments) Close() error {
	if f.CloseFn == nil {
		return nil
	}
	return f.CloseFn()
}

// FragmentsOf yields each part as a content fragment, then a done
// fragment, then io.EOF. When failAfter is non-nil it is returned instead
// of the done fragment.
func FragmentsOf(failAfter error, parts ...string) *Fragments {
	var mu sync.Mutex
	i := 0
	return &Fragments{
		NextFn: func() (ollama.Fragment, error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case i < len(parts):
				i++
				return ollama.Fragment{Content: parts[i-1]}, nil
			case i == len(parts):
				i++
				if failAfter != nil {
					return ollama.Fragment{}, failAfter
				}
				return ollama.Fragment{Done: true, DoneReason: "stop"}, nil
			case failAfter != nil:
				return ollama.Fragment{}, failAfter
			default:
				return ollama.Fragment{}, io.EOF
			}
		},
	}
}
