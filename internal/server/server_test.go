// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigchat/internal/event"
	"github.com/jeranaias/rigchat/internal/mock"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/relay"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

type testEnv struct {
	srv     *Server
	store   storage.Store
	relays  *relay.Service
	catalog *mock.Catalog
	backend *mock.Backend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	backend := &mock.Backend{}
	catalog := &mock.Catalog{}
	relays := relay.NewService(store, backend, relay.DefaultConfig(), nil)

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	return &testEnv{
		srv:     NewServer(cfg, store, relays, catalog, nil),
		store:   store,
		relays:  relays,
		catalog: catalog,
		backend: backend,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T) *model.Conversation {
	t.Helper()
	conv := model.NewConversation("llama3", 0.5, true)
	conv.AppendUserMessage("hello there")
	if err := e.store.Put(context.Background(), conv); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return conv
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, want, rec.Body.String())
	}
}

// =============================================================================
// CHAT
// =============================================================================

func TestHandleChat_Streaming(t *testing.T) {
	env := newTestEnv(t)
	env.backend.StreamFn = func(ctx context.Context, req ollama.ChatRequest) (relay.Fragments, error) {
		return mock.FragmentsOf(nil, "Hel", "lo"), nil
	}

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi","stream":true}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := event.NewReader(resp.Body)
	var events []event.Event
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %#v", len(events), events)
	}
	started, ok := events[0].(event.Started)
	if !ok || started.ConversationID == "" {
		t.Fatalf("first event = %#v, want Started with id", events[0])
	}
	if events[1] != (event.Delta{Content: "Hel"}) || events[2] != (event.Delta{Content: "lo"}) {
		t.Errorf("deltas = %#v %#v", events[1], events[2])
	}
	done, ok := events[3].(event.Done)
	if !ok {
		t.Fatalf("last event = %#v, want Done", events[3])
	}
	if got := done.Conversation.Messages[1].Content; got != "Hello" {
		t.Errorf("Done content = %q, want Hello", got)
	}

	stored, err := env.store.Get(context.Background(), started.ConversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(stored.Messages) != 2 || stored.Messages[1].Content != "Hello" {
		t.Errorf("stored messages = %#v", stored.Messages)
	}
}

func TestHandleChat_StreamingFailure(t *testing.T) {
	env := newTestEnv(t)
	env.backend.StreamFn = func(ctx context.Context, req ollama.ChatRequest) (relay.Fragments, error) {
		return mock.FragmentsOf(errors.New("upstream closed"), "Hel", "lo"), nil
	}

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "hi", "stream": true})
	expectStatus(t, rec, http.StatusOK)

	body := rec.Body.String()
	if !strings.HasSuffix(body, "data: {\"error\":\"Failed to generate response: upstream closed\"}\n\n") {
		t.Errorf("stream did not end with an error frame: %q", body)
	}
}

func TestHandleChat_NonStreaming(t *testing.T) {
	env := newTestEnv(t)
	env.backend.CompleteFn = func(ctx context.Context, req ollama.ChatRequest) (string, error) {
		return "Hi", nil
	}

	rec := env.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "Hello"})
	expectStatus(t, rec, http.StatusOK)

	resp := decodeBody[ChatResponse](t, rec)
	if resp.Response != "Hi" {
		t.Errorf("Response = %q, want Hi", resp.Response)
	}
	msgs := resp.Conversation.Messages
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("user message = %#v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hi" {
		t.Errorf("assistant message = %#v", msgs[1])
	}
}

func TestHandleChat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(env *testEnv) string
		body       func(id string) any
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid json",
			body:       func(string) any { return "{not json" },
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request format",
		},
		{
			name:       "empty message",
			body:       func(string) any { return map[string]any{"message": " "} },
			wantStatus: http.StatusBadRequest,
			wantError:  "message is required",
		},
		{
			name:       "temperature out of range",
			body:       func(string) any { return map[string]any{"message": "hi", "temperature": 3} },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "message too long",
			body:       func(string) any { return map[string]any{"message": strings.Repeat("a", MaxMessageLength+1)} },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown conversation",
			body:       func(string) any { return map[string]any{"conversationId": model.NewConversationID(), "message": "hi"} },
			wantStatus: http.StatusNotFound,
			wantError:  "conversation not found",
		},
		{
			name: "active session",
			setup: func(env *testEnv) string {
				conv := env.seed(t)
				if _, err := env.relays.Reserve(conv.ID); err != nil {
					t.Fatalf("Reserve() error = %v", err)
				}
				return conv.ID
			},
			body:       func(id string) any { return map[string]any{"conversationId": id, "message": "hi"} },
			wantStatus: http.StatusConflict,
		},
		{
			name: "backend unavailable",
			setup: func(env *testEnv) string {
				env.backend.CompleteFn = func(ctx context.Context, req ollama.ChatRequest) (string, error) {
					return "", &ollama.ClientError{Type: ollama.ErrTypeNotRunning, Message: "dial", Cause: errors.New("refused")}
				}
				return ""
			},
			body:       func(string) any { return map[string]any{"message": "hi"} },
			wantStatus: http.StatusServiceUnavailable,
			wantError:  ollama.ErrBackendUnavailable.Message,
		},
		{
			name: "model not found",
			setup: func(env *testEnv) string {
				env.backend.CompleteFn = func(ctx context.Context, req ollama.ChatRequest) (string, error) {
					return "", ollama.ErrModelNotFound
				}
				return ""
			},
			body:       func(string) any { return map[string]any{"message": "hi", "model": "nope"} },
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var id string
			if tt.setup != nil {
				id = tt.setup(env)
			}
			rec := env.do(t, http.MethodPost, "/api/chat", tt.body(id))
			expectStatus(t, rec, tt.wantStatus)

			resp := decodeBody[ErrorResponse](t, rec)
			if resp.Error == "" {
				t.Error("error body is empty")
			}
			if tt.wantError != "" && resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestConversationCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/conversations", map[string]any{"title": "Trip", "temperature": 1.2})
	expectStatus(t, rec, http.StatusCreated)
	created := decodeBody[ConversationResponse](t, rec).Conversation
	if created.Title != "Trip" || created.Temperature != 1.2 || created.Model != model.DefaultModel {
		t.Fatalf("created = %#v", created)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decodeBody[ConversationListResponse](t, rec)
	if len(list.Conversations) != 1 || list.Conversations[0].ID != created.ID {
		t.Fatalf("list = %#v", list)
	}

	rec = env.do(t, http.MethodPut, "/api/conversations/"+created.ID, map[string]any{"title": "Holiday", "stream": true})
	expectStatus(t, rec, http.StatusOK)
	updated := decodeBody[ConversationResponse](t, rec).Conversation
	if updated.Title != "Holiday" || !updated.Stream || updated.Temperature != 1.2 {
		t.Errorf("updated = %#v", updated)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/"+created.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[ConversationResponse](t, rec).Conversation; got.Title != "Holiday" {
		t.Errorf("Title = %q, want Holiday", got.Title)
	}

	rec = env.do(t, http.MethodDelete, "/api/conversations/"+created.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]bool](t, rec); !got["success"] {
		t.Errorf("delete body = %#v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/"+created.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestListConversations_Empty(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/conversations", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != `{"conversations":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestConversationWrites_RejectedDuringSession(t *testing.T) {
	env := newTestEnv(t)
	conv := env.seed(t)

	release, err := env.relays.Reserve(conv.ID)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	defer release()

	rec := env.do(t, http.MethodPut, "/api/conversations/"+conv.ID, map[string]any{"title": "x"})
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	expectStatus(t, rec, http.StatusConflict)

	// Reads stay available for pollers.
	rec = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestUpdateConversation_Validation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.seed(t)

	rec := env.do(t, http.MethodPut, "/api/conversations/"+conv.ID, map[string]any{"title": "  "})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID, map[string]any{"temperature": -0.1})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPut, "/api/conversations/"+model.NewConversationID(), map[string]any{"title": "x"})
	expectStatus(t, rec, http.StatusNotFound)
}

// =============================================================================
// MODELS & HEALTH
// =============================================================================

func TestHandleModels(t *testing.T) {
	env := newTestEnv(t)
	modified := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env.catalog.ListModelsFn = func(ctx context.Context) ([]ollama.ModelInfo, error) {
		return []ollama.ModelInfo{{Name: "gemma3:12b", ModifiedAt: modified, Size: 42}}, nil
	}

	rec := env.do(t, http.MethodGet, "/api/models", nil)
	expectStatus(t, rec, http.StatusOK)
	resp := decodeBody[ModelListResponse](t, rec)
	if len(resp.Models) != 1 || resp.Models[0].Name != "gemma3:12b" || !resp.Models[0].ModifiedAt.Equal(modified) {
		t.Errorf("models = %#v", resp.Models)
	}
}

func TestHandleModels_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.ListModelsFn = func(ctx context.Context) ([]ollama.ModelInfo, error) {
		return nil, ollama.ErrBackendUnavailable
	}

	rec := env.do(t, http.MethodGet, "/api/models", nil)
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if got := decodeBody[ErrorResponse](t, rec).Error; got != ollama.ErrBackendUnavailable.Message {
		t.Errorf("error = %q", got)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	expectStatus(t, rec, http.StatusOK)
	health := decodeBody[HealthResponse](t, rec)
	if health.Status != "ok" || health.OllamaStatus != "ok" || health.Version != Version {
		t.Errorf("health = %#v", health)
	}

	env.catalog.CheckRunningFn = func(ctx context.Context) error { return ollama.ErrBackendUnavailable }
	rec = env.do(t, http.MethodGet, "/health", nil)
	health = decodeBody[HealthResponse](t, rec)
	if health.Status != "degraded" || health.OllamaStatus != "unavailable" {
		t.Errorf("health = %#v", health)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrEmptyMessage, http.StatusBadRequest},
		{storage.ErrNotFound, http.StatusNotFound},
		{relay.ErrSessionActive, http.StatusConflict},
		{ollama.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{ollama.ErrTimeout, http.StatusGatewayTimeout},
		{relay.ErrStoreWrite, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// blockingStream returns a backend stream that produces nothing until its
// context ends. started is closed once the relay reaches the backend.
func blockingStream(started chan struct{}) func(context.Context, ollama.ChatRequest) (relay.Fragments, error) {
	return func(ctx context.Context, req ollama.ChatRequest) (relay.Fragments, error) {
		close(started)
		return &mock.Fragments{NextFn: func() (ollama.Fragment, error) {
			<-ctx.Done()
			return ollama.Fragment{}, ctx.Err()
		}}, nil
	}
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("relay never reached the backend")
	}
}

func expectIncompleteReply(t *testing.T, store storage.Store, id string) {
	t.Helper()
	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	last := stored.Messages[len(stored.Messages)-1]
	if last.Role != model.RoleAssistant || last.Status != model.StatusIncomplete {
		t.Errorf("last message = %+v, want incomplete assistant reply", last)
	}
}

func TestShutdown_CancelsRunningRelays(t *testing.T) {
	env := newTestEnv(t)
	conv := env.seed(t)
	started := make(chan struct{})
	env.backend.StreamFn = blockingStream(started)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- env.srv.Serve(ln) }()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		body := `{"conversationId":"` + conv.ID + `","message":"more","stream":true}`
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/chat", "application/json", strings.NewReader(body))
		if err != nil {
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	waitStarted(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if n := env.relays.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after shutdown, want 0", n)
	}
	expectIncompleteReply(t, env.store, conv.ID)

	if err := <-served; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	select {
	case <-clientDone:
	case <-time.After(5 * time.Second):
		t.Error("client stream was not closed by shutdown")
	}
}

// Handlers mounted outside Serve still stop with the server.
func TestShutdown_CancelsRelaysOnMountedHandler(t *testing.T) {
	env := newTestEnv(t)
	conv := env.seed(t)
	started := make(chan struct{})
	env.backend.StreamFn = blockingStream(started)

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		body := `{"conversationId":"` + conv.ID + `","message":"more","stream":true}`
		resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
		if err != nil {
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	waitStarted(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := env.relays.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after shutdown, want 0", n)
	}
	expectIncompleteReply(t, env.store, conv.ID)

	select {
	case <-clientDone:
	case <-time.After(5 * time.Second):
		t.Error("client stream did not end after shutdown")
	}
}

func TestShutdown_TimesOutWithStuckRelay(t *testing.T) {
	env := newTestEnv(t)
	conv := env.seed(t)

	release, err := env.relays.Reserve(conv.ID)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = env.srv.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
}

func TestServe_AfterShutdownReturns(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- env.srv.Serve(ln) }()

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() kept running after Shutdown")
	}
}
