// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/mock"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/relay"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

const testPollInterval = 10 * time.Millisecond

// stack is a live rigchat server over a file store and a scripted backend.
type stack struct {
	client  *client.Client
	store   storage.Store
	relays  *relay.Service
	backend *mock.Backend
	catalog *mock.Catalog
	polls   atomic.Int64
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	s := &stack{
		store:   store,
		backend: &mock.Backend{},
		catalog: &mock.Catalog{},
	}
	s.relays = relay.NewService(store, s.backend, relay.DefaultConfig(), nil)

	cfg := server.DefaultConfig()
	cfg.RateLimit = 0
	handler := server.NewServer(cfg, store, s.relays, s.catalog, nil).Handler()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/conversations/") {
			s.polls.Add(1)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	s.client = client.New(client.Config{BaseURL: ts.URL, PollInterval: testPollInterval})
	return s
}

// =============================================================================
// CONVERSATION API
// =============================================================================

func TestClient_ConversationLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	list, err := s.client.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	conv, err := s.client.CreateConversation(ctx, model.ConversationPatch{
		Title: model.String("Notes"),
		Model: model.String("llama3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Notes", conv.Title)
	assert.Equal(t, "llama3", conv.Model)

	got, err := s.client.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	updated, err := s.client.UpdateConversation(ctx, conv.ID, model.ConversationPatch{
		Title:       model.String("Renamed"),
		Temperature: model.Float(1.2),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 1.2, updated.Temperature)

	list, err = s.client.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	require.NoError(t, s.client.DeleteConversation(ctx, conv.ID))
	_, err = s.client.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestClient_APIErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.GetConversation(ctx, model.NewConversationID())
	require.ErrorIs(t, err, client.ErrNotFound)

	_, err = s.client.UpdateConversation(ctx, model.NewConversationID(), model.ConversationPatch{
		Temperature: model.Float(5),
	})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, "temperature")

	conv, err := s.client.CreateConversation(ctx, model.ConversationPatch{})
	require.NoError(t, err)
	release, err := s.relays.Reserve(conv.ID)
	require.NoError(t, err)
	defer release()

	err = s.client.DeleteConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, client.ErrConflict)
}

func TestClient_ModelsAndHealth(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.catalog.ListModelsFn = func(ctx context.Context) ([]ollama.ModelInfo, error) {
		return []ollama.ModelInfo{{Name: "llama3", Size: 42}}, nil
	}
	models, err := s.client.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3", models[0].Name)
	assert.Equal(t, int64(42), models[0].Size)

	health, err := s.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.OllamaStatus)

	s.catalog.CheckRunningFn = func(ctx context.Context) error { return ollama.ErrBackendUnavailable }
	health, err = s.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", health.Status)

	s.catalog.ListModelsFn = func(ctx context.Context) ([]ollama.ModelInfo, error) {
		return nil, ollama.ErrBackendUnavailable
	}
	_, err = s.client.ListModels(ctx)
	assert.ErrorIs(t, err, client.ErrUnavailable)
}

func TestClient_ServerUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := client.New(client.Config{BaseURL: url})
	_, err := c.ListConversations(context.Background())
	assert.ErrorIs(t, err, client.ErrServerUnreachable)
}

func TestClient_PlainTextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := client.New(client.Config{BaseURL: ts.URL})
	_, err := c.Health(context.Background())

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}
