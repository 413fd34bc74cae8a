// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mock

import (
	"context"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// Catalog is a test double for the model listing and health probe of an
// Ollama client. Unset functions report an empty, healthy backend.
type Catalog struct {
	ListModelsFn   func(ctx context.Context) ([]ollama.ModelInfo, error)
	CheckRunningFn func(ctx context.Context) error
}

// ListModels delegates to ListModelsFn.
func (c *Catalog) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	if c.ListModelsFn == nil {
		return nil, nil
	}
	return c.ListModelsFn(ctx)
}

// CheckRunning delegates to CheckRunningFn.
func (c *Catalog) CheckRunning(ctx context.Context) error {
	if c.CheckRunningFn == nil {
		return nil
	}
	return c.CheckRunningFn(ctx)
}
