// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func chatLine(content string, done bool) string {
	b, _ := json.Marshal(ChatResponse{Model: "test", Message: Message{Role: "assistant", Content: content}, Done: done})
	return string(b) + "\n"
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func drain(t *testing.T, s *Stream) ([]Fragment, error) {
	t.Helper()
	var frags []Fragment
	for {
		f, err := s.Next()
		if err == io.EOF {
			return frags, nil
		}
		if err != nil {
			return frags, err
		}
		frags = append(frags, f)
	}
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_FillsDefaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://example:11434/"})
	cfg := c.Config()

	if cfg.BaseURL != "http://example:11434" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.DefaultModel != DefaultModel {
		t.Errorf("DefaultModel = %q, want %q", cfg.DefaultModel, DefaultModel)
	}
	if NewClientWithConfig(nil).Config().BaseURL != DefaultBaseURL {
		t.Error("nil config should use DefaultBaseURL")
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestChatStream_DeliversFragmentsInOrder(t *testing.T) {
	var got ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range []string{"Hel", "lo", ", world"} {
			fmt.Fprint(w, chatLine(part, false))
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, chatLine("", true))
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{
		Model:    "llama3",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Options:  &Options{Temperature: 0},
	})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, frags, 4)

	var sb strings.Builder
	for _, f := range frags {
		sb.WriteString(f.Content)
	}
	assert.Equal(t, "Hello, world", sb.String())
	assert.True(t, frags[3].Done)
	assert.True(t, got.Stream)
	assert.Equal(t, "llama3", got.Model)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.0, got.Options.Temperature)
}

func TestChatStream_SkipsMalformedLines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatLine("a", false))
		fmt.Fprint(w, "{\"message\": {\"content\": \"trunc\n")
		fmt.Fprint(w, "\n")
		fmt.Fprint(w, chatLine("b", false))
		fmt.Fprint(w, chatLine("", true))
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	require.NoError(t, err)
	assert.Len(t, frags, 3)
	assert.Equal(t, 1, stream.Skipped())
	assert.Equal(t, 3, stream.Fragments())
}

func TestChatStream_TruncatedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatLine("partial", false))
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	assert.Len(t, frags, 1)
	assert.ErrorIs(t, err, ErrStreamTruncated)

	// Sticky.
	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrStreamTruncated)
}

func TestChatStream_UpstreamErrorLine(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatLine("x", false))
		fmt.Fprint(w, `{"error":"out of memory"}`+"\n")
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = drain(t, stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestChatStream_ModelNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found"}`)
	})

	_, err := client.ChatStream(context.Background(), ChatRequest{Model: "nope"})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestChatStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := client.ChatStream(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "Make sure Ollama is running")
}

func TestChatStream_CancelAbortsRead(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatLine("first", false))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.ChatStream(ctx, ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	frag, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", frag.Content)

	cancel()
	_, err = stream.Next()
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

// =============================================================================
// NON-STREAMING TESTS
// =============================================================================

func TestChat_ReturnsWholeReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		fmt.Fprint(w, chatLine("Hi", true))
	})

	resp, err := client.Chat(context.Background(), ChatRequest{Model: "m", Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Hi", resp.Message.Content)
	assert.True(t, resp.Done)
}

func TestChat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrTimeout)
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"gemma3:12b","modified_at":"2025-01-02T03:04:05Z","size":42}]}`)
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gemma3:12b", models[0].Name)
	assert.Equal(t, int64(42), models[0].Size)
}

func TestCheckRunning(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	})
	assert.NoError(t, client.CheckRunning(context.Background()))
}

func TestClientError_Is(t *testing.T) {
	wrapped := fmt.Errorf("relay: %w", &ClientError{Type: ErrTypeNotRunning, Message: "x", Cause: io.ErrUnexpectedEOF})

	if !errors.Is(wrapped, ErrBackendUnavailable) {
		t.Error("errors.Is(wrapped, ErrBackendUnavailable) = false, want true")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Error("errors.Is(wrapped, ErrTimeout) = true, want false")
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("cause should be reachable through Unwrap")
	}
}
