// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/event"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the lifecycle position of a Session.
type State int

const (
	StateCreated State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one in-flight send against one conversation. It owns the
// trailing assistant message from the moment Relay persists it.
type Session struct {
	svc   *Service
	id    string
	conv  *model.Conversation
	index int

	mu    sync.Mutex
	state State
	used  bool

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content   strings.Builder
	flushed   int // bytes of content known to be in the store
	emitted   int
	lastFlush time.Time
	settled   bool // placeholder status already written

	releaseOnce sync.Once
}

// ConversationID returns the id of the claimed conversation.
func (s *Session) ConversationID() string { return s.id }

// Conversation returns a copy of the conversation as last written by the session.
func (s *Session) Conversation() *model.Conversation { return s.conv.Clone() }

// Stream reports the conversation's effective streaming preference.
func (s *Session) Stream() bool { return s.conv.Stream }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Release frees the conversation for another session. Relay and Complete
// release on return; Release is only needed when neither is called.
func (s *Session) Release() {
	s.releaseOnce.Do(func() { s.svc.release(s) })
}

func (s *Session) claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return ErrSessionUsed
	}
	s.used = true
	return nil
}

// =============================================================================
// STREAMING RELAY
// =============================================================================

// Relay runs the streaming protocol, sending events to emit until the
// stream ends. It returns nil on completion, ErrCancelled when ctx was
// cancelled, or the error that failed the session.
func (s *Session) Relay(ctx context.Context, emit Emitter) error {
	if err := s.claim(); err != nil {
		return err
	}
	defer s.Release()

	logger := s.svc.logger
	start := time.Now()

	// 1. The placeholder is durable before anything is sent downstream.
	s.index = s.conv.AppendPlaceholder()
	if err := s.svc.store.Put(ctx, s.conv); err != nil {
		s.index = -1
		if ctx.Err() != nil {
			return s.cancel(ctx, err)
		}
		return s.fail(ctx, emit, fmt.Errorf("%w: %v", ErrStoreWrite, err))
	}
	s.setState(StateStreaming)

	// 2.
	if err := emit.Send(event.Started{ConversationID: s.id}); err != nil {
		return s.cancel(ctx, err)
	}

	stream, err := s.svc.backend.Stream(ctx, chatRequest(s.conv))
	if err != nil {
		if ctx.Err() != nil {
			return s.cancel(ctx, err)
		}
		return s.fail(ctx, emit, err)
	}
	defer stream.Close()

	// 3.
	for {
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return s.cancel(ctx, err)
			}
			return s.fail(ctx, emit, err)
		}

		if frag.Content != "" {
			s.content.WriteString(frag.Content)
			if err := s.persist(ctx, false); err != nil {
				if ctx.Err() != nil {
					return s.cancel(ctx, err)
				}
				return s.fail(ctx, emit, err)
			}
			if err := emit.Send(event.Delta{Content: frag.Content}); err != nil {
				return s.cancel(ctx, err)
			}
			s.emitted++
		}

		if frag.Done {
			break
		}
	}

	// 4.
	if err := s.persist(ctx, true); err != nil {
		return s.fail(ctx, emit, err)
	}
	if err := s.svc.store.SetMessageStatus(ctx, s.id, s.index, model.StatusComplete); err != nil {
		return s.fail(ctx, emit, fmt.Errorf("%w: %v", ErrStoreWrite, err))
	}
	s.settled = true
	snapshot, err := s.svc.store.Get(ctx, s.id)
	if err != nil {
		return s.fail(ctx, emit, fmt.Errorf("%w: %v", ErrStoreWrite, err))
	}
	s.conv = snapshot
	s.setState(StateCompleted)

	if err := emit.Send(event.Done{Conversation: snapshot}); err != nil {
		logger.Printf("RELAY_DONE_UNDELIVERED | conv=%s error=%v", s.id, err)
	}
	logger.Printf("RELAY_COMPLETED | conv=%s deltas=%d bytes=%d duration=%s",
		s.id, s.emitted, s.content.Len(), time.Since(start).Round(time.Millisecond))
	return nil
}

// persist writes the accumulated content when it changed. Unless force is
// set, writes are spaced at least FlushInterval apart; content held back is
// folded into the next write, so the store always holds a prefix.
func (s *Session) persist(ctx context.Context, force bool) error {
	if s.content.Len() == s.flushed {
		return nil
	}
	interval := s.svc.config.FlushInterval
	if !force && interval > 0 && time.Since(s.lastFlush) < interval {
		return nil
	}

	if err := s.svc.store.UpdateMessageContent(ctx, s.id, s.index, s.content.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	s.flushed = s.content.Len()
	s.lastFlush = time.Now()
	return nil
}

// finalize flushes pending content and marks the placeholder incomplete.
// It runs detached from ctx so a disconnect cannot skip it.
func (s *Session) finalize(ctx context.Context) {
	if s.index < 0 || s.settled {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.svc.config.FinalizeTimeout)
	defer cancel()

	if err := s.persist(fctx, true); err != nil {
		s.svc.logger.Printf("RELAY_FINALIZE_ERROR | conv=%s step=flush error=%v", s.id, err)
	}
	if err := s.svc.store.SetMessageStatus(fctx, s.id, s.index, model.StatusIncomplete); err != nil {
		s.svc.logger.Printf("RELAY_FINALIZE_ERROR | conv=%s step=status error=%v", s.id, err)
	}
}

// fail ends the session with an error event.
func (s *Session) fail(ctx context.Context, emit Emitter, err error) error {
	s.setState(StateFailed)
	s.finalize(ctx)
	s.svc.logger.Printf("RELAY_FAILED | conv=%s deltas=%d bytes=%d error=%v", s.id, s.emitted, s.content.Len(), err)

	if sendErr := emit.Send(event.Failed{Message: ClientMessage(err)}); sendErr != nil {
		s.svc.logger.Printf("RELAY_ERROR_UNDELIVERED | conv=%s error=%v", s.id, sendErr)
	}
	return err
}

// cancel ends the session because the caller went away.
func (s *Session) cancel(ctx context.Context, cause error) error {
	s.setState(StateCancelled)
	s.finalize(ctx)
	s.svc.logger.Printf("RELAY_CANCELLED | conv=%s deltas=%d bytes=%d cause=%v", s.id, s.emitted, s.content.Len(), cause)
	return ErrCancelled
}

// =============================================================================
// NON-STREAMING
// =============================================================================

// Complete asks the backend for a whole reply, bounded by NonStreamTimeout,
// and appends it to the conversation. It returns the stored conversation
// and the reply text.
func (s *Session) Complete(ctx context.Context) (*model.Conversation, string, error) {
	if err := s.claim(); err != nil {
		return nil, "", err
	}
	defer s.Release()
	s.setState(StateStreaming)

	bctx, cancel := context.WithTimeout(ctx, s.svc.config.NonStreamTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.svc.backend.Complete(bctx, chatRequest(s.conv))
	if err != nil {
		if ctx.Err() != nil {
			s.setState(StateCancelled)
			return nil, "", ErrCancelled
		}
		s.setState(StateFailed)
		s.svc.logger.Printf("COMPLETE_FAILED | conv=%s error=%v", s.id, err)
		return nil, "", err
	}
	if reply == "" {
		reply = NoResponseText
	}

	conv, err := s.svc.store.Get(ctx, s.id)
	if err != nil {
		s.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	conv.AppendAssistantMessage(reply)
	if err := s.svc.store.Put(ctx, conv); err != nil {
		s.setState(StateFailed)
		return nil, "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	s.conv = conv
	s.setState(StateCompleted)
	s.svc.logger.Printf("COMPLETE_DONE | conv=%s bytes=%d duration=%s", s.id, len(reply), time.Since(start).Round(time.Millisecond))
	return conv.Clone(), reply, nil
}

// =============================================================================
// CLIENT MESSAGES
// =============================================================================

// ClientMessage turns a session error into the text shown to the user.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ollama.ErrBackendUnavailable):
		return ollama.ErrBackendUnavailable.Message
	case errors.Is(err, ollama.ErrModelNotFound):
		return "Model not found. Pull it with `ollama pull` or pick another model."
	case errors.Is(err, ollama.ErrTimeout):
		return "The model took too long to respond."
	case errors.Is(err, ErrStoreWrite):
		return err.Error()
	case errors.Is(err, ErrCancelled):
		return ErrCancelled.Error()
	default:
		return "Failed to generate response: " + err.Error()
	}
}
