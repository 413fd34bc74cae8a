// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/event"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/relay"
	"github.com/jeranaias/rigchat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length of one user message.
	MaxMessageLength = 100000

	// DefaultHealthTimeout bounds the backend probe of GET /health.
	DefaultHealthTimeout = 2 * time.Second

	// relayDrainPoll is how often Shutdown checks for running relays.
	relayDrainPoll = 10 * time.Millisecond
)

// Version is the server version reported by /health (set by main).
var Version = "0.1.0"

// ErrShuttingDown is the cancellation cause of chats cut off by Shutdown.
var ErrShuttingDown = errors.New("server shutting down")

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds server settings. Zero values take defaults.
type Config struct {
	Addr        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	// RateLimit is the sustained per-client request rate; RateBurst the
	// bucket size. A zero RateLimit disables limiting.
	RateLimit rate.Limit
	RateBurst int

	CORS *CORSConfig

	HealthTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
// The rate limit leaves room for a client polling every 500ms.
func DefaultConfig() Config {
	return Config{
		Addr:          DefaultAddr,
		ReadTimeout:   30 * time.Second,
		IdleTimeout:   120 * time.Second,
		RateLimit:     20,
		RateBurst:     40,
		CORS:          DefaultCORSConfig(),
		HealthTimeout: DefaultHealthTimeout,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Backend is the part of the inference backend the API exposes directly.
type Backend interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	CheckRunning(ctx context.Context) error
}

// Server is the rigchat HTTP API server.
type Server struct {
	config Config
	router *http.ServeMux
	logger *log.Logger

	mu     sync.Mutex
	server *http.Server

	// baseCtx parents every chat request; Shutdown cancels it so running
	// relays stop and settle before the store is closed.
	baseCtx    context.Context
	stopRelays context.CancelFunc

	store   storage.Store
	relays  *relay.Service
	backend Backend
}

// NewServer creates a Server. A nil logger discards output.
func NewServer(config Config, store storage.Store, relays *relay.Service, backend Backend, logger *log.Logger) *Server {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = defaults.HealthTimeout
	}
	if config.RateLimit > 0 && config.RateBurst <= 0 {
		config.RateBurst = int(config.RateLimit) + 1
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		config:  config,
		router:  http.NewServeMux(),
		logger:  logger,
		store:   store,
		relays:  relays,
		backend: backend,
	}
	s.baseCtx, s.stopRelays = context.WithCancel(context.Background())
	s.setupRoutes()
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/chat", s.handleChat)

	s.router.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.router.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.router.HandleFunc("PUT /api/conversations/{id}", s.handleUpdateConversation)
	s.router.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)

	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	}
	if s.config.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.config.RateLimit, s.config.RateBurst), s.logger))
	}
	if s.config.CORS != nil {
		middlewares = append(middlewares, CORSMiddleware(s.config.CORS))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// API TYPES
// ============================================================================

// ChatResponse is the non-streaming reply of POST /api/chat.
type ChatResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Response     string              `json:"response"`
}

// ConversationResponse wraps a single conversation.
type ConversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
}

// ConversationListResponse is the body of GET /api/conversations.
type ConversationListResponse struct {
	Conversations []model.Summary `json:"conversations"`
}

// ModelResponse is one entry of GET /api/models.
type ModelResponse struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// ModelListResponse is the body of GET /api/models.
type ModelListResponse struct {
	Models []ModelResponse `json:"models"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	OllamaStatus   string `json:"ollama_status"`
	ActiveSessions int    `json:"active_sessions"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.SendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Message) > MaxMessageLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("message exceeds maximum length of %d", MaxMessageLength))
		return
	}

	ctx, done := s.chatContext(r)
	defer done()
	sess, err := s.relays.Prepare(ctx, req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	if !sess.Stream() {
		s.completeChat(ctx, w, r, sess)
		return
	}

	writer, err := event.NewWriter(w)
	if err != nil {
		sess.Release()
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// ctx ends when the client disconnects or the server shuts down,
	// which aborts the backend read.
	if err := sess.Relay(ctx, writer); err != nil && !errors.Is(err, relay.ErrCancelled) {
		s.logger.Printf("CHAT_STREAM_ERROR | conv=%s error=%v", sess.ConversationID(), err)
	}
}

// completeChat runs the non-streaming path.
func (s *Server) completeChat(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *relay.Session) {
	conv, reply, err := sess.Complete(ctx)
	if err != nil {
		if errors.Is(err, relay.ErrCancelled) {
			return
		}
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ChatResponse{Conversation: conv, Response: reply})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleListConversations handles GET /api/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if list == nil {
		list = []model.Summary{}
	}
	s.writeJSON(w, http.StatusOK, ConversationListResponse{Conversations: list})
}

// handleCreateConversation handles POST /api/conversations.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var patch model.ConversationPatch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := patch.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	defaults := s.relays.Config()
	conv := model.NewConversation(defaults.DefaultModel, defaults.DefaultTemperature, false)
	patch.ApplyTo(conv)

	if err := s.store.Put(r.Context(), conv); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Printf("CONVERSATION_CREATED | conv=%s model=%s", conv.ID, conv.Model)
	s.writeJSON(w, http.StatusCreated, ConversationResponse{Conversation: conv})
}

// handleGetConversation handles GET /api/conversations/{id}.
// This is the poll target of reconciling clients.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
}

// handleUpdateConversation handles PUT /api/conversations/{id}.
func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var patch model.ConversationPatch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := patch.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	release, err := s.relays.Reserve(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer release()

	ctx := r.Context()
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	patch.ApplyTo(conv)
	if err := s.store.Put(ctx, conv); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	release, err := s.relays.Reserve(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer release()

	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Printf("CONVERSATION_DELETED | conv=%s client_ip=%s", id, GetClientIP(r))
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ============================================================================
// MODELS & HEALTH
// ============================================================================

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := ModelListResponse{Models: make([]ModelResponse, 0, len(models))}
	for _, m := range models {
		resp.Models = append(resp.Models, ModelResponse{Name: m.Name, ModifiedAt: m.ModifiedAt, Size: m.Size})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:         "ok",
		Version:        Version,
		OllamaStatus:   "ok",
		ActiveSessions: s.relays.ActiveCount(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()
	if err := s.backend.CheckRunning(ctx); err != nil {
		health.OllamaStatus = "unavailable"
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.config.ReadTimeout,
		// Streams are bounded by the backend and the client, not the server.
		WriteTimeout: 0,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	// Shutdown already ran and had no server to close.
	if s.baseCtx.Err() != nil {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), Version)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels running relays and waits for
// them to mark their replies incomplete. When it returns nil no session is
// writing to the store, so the store can be closed.
//
// RELIABILITY: http.Server.Shutdown alone never cancels in-flight handlers,
// so a live stream would hold it until the deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Printf("SERVER_SHUTDOWN | active_sessions=%d", s.relays.ActiveCount())

	s.mu.Lock()
	s.stopRelays()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if waitErr := s.waitForRelays(ctx); waitErr != nil {
		return waitErr
	}
	return err
}

// waitForRelays blocks until no relay session is active or ctx ends.
func (s *Server) waitForRelays(ctx context.Context) error {
	ticker := time.NewTicker(relayDrainPoll)
	defer ticker.Stop()
	for {
		n := s.relays.ActiveCount()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d relay sessions still active: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
}

// chatContext is the request context, also cancelled when the server shuts
// down. Requests served by Serve inherit baseCtx already; the link covers
// handlers mounted elsewhere through Handler.
func (s *Server) chatContext(r *http.Request) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(r.Context())
	stop := context.AfterFunc(s.baseCtx, func() { cancel(ErrShuttingDown) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body, writing a 4xx reply and returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	// CRITICAL: Limit request body size to prevent DoS attacks
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		// SECURITY: Log full details internally, return generic message to client
		s.logger.Printf("INVALID_BODY | path=%s error=%v", r.URL.Path, err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrEmptyMessage), errors.Is(err, model.ErrInvalidTemperature),
		errors.Is(err, model.ErrEmptyTitle), errors.Is(err, model.ErrEmptyModel):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ollama.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, ollama.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ollama.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with its mapped status. Internal errors are
// logged in full and reported generically.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		s.logger.Printf("REQUEST_FAILED | method=%s path=%s error=%v", r.Method, r.URL.Path, err)
		message = "Internal server error"
		if errors.Is(err, relay.ErrStoreWrite) {
			message = relay.ClientMessage(err)
		}
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		message = relay.ClientMessage(err)
	case http.StatusNotFound:
		if errors.Is(err, storage.ErrNotFound) {
			message = storage.ErrNotFound.Error()
		} else {
			message = relay.ClientMessage(err)
		}
	}
	s.writeError(w, status, message)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("RESPONSE_WRITE_ERROR | error=%v", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
