// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/event"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionActive is returned when a conversation already has a
	// session in flight.
	ErrSessionActive = errors.New("a response is already being generated for this conversation")

	// ErrStoreWrite wraps persistence failures during a session.
	ErrStoreWrite = errors.New("failed to save conversation")

	// ErrCancelled is returned by Relay when its context was cancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrSessionUsed is returned when Relay or Complete is called twice.
	ErrSessionUsed = errors.New("session already used")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Defaults for Config zero values.
const (
	DefaultNonStreamTimeout = 5 * time.Minute
	DefaultFinalizeTimeout  = 10 * time.Second
)

// NoResponseText is stored in place of an empty non-streaming reply so the
// conversation never holds a blank assistant turn.
const NoResponseText = "No response from model"

// Config tunes a Service.
type Config struct {
	// FlushInterval bounds how often partial content is written. Zero
	// writes after every fragment.
	FlushInterval time.Duration

	// NonStreamTimeout bounds the backend wait of Complete.
	NonStreamTimeout time.Duration

	// FinalizeTimeout bounds the writes that close out a cancelled or
	// failed session, which run detached from the request context.
	FinalizeTimeout time.Duration

	// DefaultModel and DefaultTemperature apply to new conversations
	// whose request leaves them unset.
	DefaultModel       string
	DefaultTemperature float64
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		NonStreamTimeout:   DefaultNonStreamTimeout,
		FinalizeTimeout:    DefaultFinalizeTimeout,
		DefaultModel:       model.DefaultModel,
		DefaultTemperature: model.DefaultTemperature,
	}
}

// =============================================================================
// EMITTER
// =============================================================================

// Emitter receives relay events in order. *event.Writer implements it.
type Emitter interface {
	Send(ev event.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev event.Event) error

// Send implements Emitter.
func (f EmitterFunc) Send(ev event.Event) error { return f(ev) }

// =============================================================================
// SERVICE
// =============================================================================

// Service owns the session registry and runs relays against one store and
// one backend. It is safe for concurrent use.
type Service struct {
	store   storage.Store
	backend Backend
	config  Config
	logger  *log.Logger

	mu     sync.Mutex
	active map[string]*Session
}

// NewService creates a relay service. A nil logger discards output.
func NewService(store storage.Store, backend Backend, config Config, logger *log.Logger) *Service {
	defaults := DefaultConfig()
	if config.NonStreamTimeout <= 0 {
		config.NonStreamTimeout = defaults.NonStreamTimeout
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = defaults.FinalizeTimeout
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaults.DefaultModel
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		store:   store,
		backend: backend,
		config:  config,
		logger:  logger,
		active:  make(map[string]*Session),
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Active reports whether conversation id has a session in flight.
func (s *Service) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// ActiveCount returns the number of sessions in flight.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Service) acquire(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[sess.id]; busy {
		return ErrSessionActive
	}
	s.active[sess.id] = sess
	return nil
}

// Reserve claims conversation id without starting a session, so CRUD
// writes cannot interleave with a relay. It returns ErrSessionActive when a
// session is in flight; otherwise the returned func frees the claim.
func (s *Service) Reserve(id string) (func(), error) {
	sess := &Session{svc: s, id: id, index: -1}
	if err := s.acquire(sess); err != nil {
		return nil, err
	}
	return sess.Release, nil
}

func (s *Service) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[sess.id] == sess {
		delete(s.active, sess.id)
	}
}

// Prepare validates req, claims the conversation and persists the user
// message. The caller must run Relay or Complete on the returned session,
// or Release it.
func (s *Service) Prepare(ctx context.Context, req model.SendRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var conv *model.Conversation
	if req.ConversationID == "" {
		temperature := s.config.DefaultTemperature
		conv = model.NewConversation(s.config.DefaultModel, temperature, false)
	}

	sess := &Session{svc: s, id: req.ConversationID, index: -1}
	if conv != nil {
		sess.id = conv.ID
	}
	if err := s.acquire(sess); err != nil {
		return nil, err
	}

	if conv == nil {
		loaded, err := s.store.Get(ctx, req.ConversationID)
		if err != nil {
			s.release(sess)
			return nil, err
		}
		conv = loaded
		// A streaming placeholder with no live session was left behind by
		// an earlier process.
		if last := len(conv.Messages) - 1; last >= 0 && conv.Messages[last].Status == model.StatusStreaming {
			conv.Messages[last].Status = model.StatusIncomplete
		}
	}

	req.ApplyTo(conv)
	conv.AppendUserMessage(req.Message)

	if err := s.store.Put(ctx, conv); err != nil {
		s.release(sess)
		return nil, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	sess.conv = conv
	s.logger.Printf("SESSION_CREATED | conv=%s model=%s messages=%d stream=%t",
		conv.ID, conv.Model, len(conv.Messages), conv.Stream)
	return sess, nil
}
