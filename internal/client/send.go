// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/event"
	"github.com/jeranaias/rigchat/internal/model"
)

// ErrStreamEnded is returned when the event stream closes without a
// terminal event.
var ErrStreamEnded = errors.New("connection closed before the response completed")

// =============================================================================
// RESULT
// =============================================================================

// Status is how a send ended.
type Status int

const (
	StatusCompleted Status = iota
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result describes a finished send.
type Result struct {
	Status Status

	// Conversation is the stored conversation after a completed send.
	Conversation *model.Conversation

	// Response is the assistant reply of a completed send.
	Response string

	// Input is the message text to put back in the editor after a failed
	// or cancelled send.
	Input string

	// Err is the failure of a failed send.
	Err error

	Duration time.Duration
}

// =============================================================================
// SEND
// =============================================================================

// Send posts req and keeps t in step with the reply. ctx is the send's
// cancellation token, normally from Canceller.Start.
//
// When req.Stream is nil the transcript's conversation setting decides;
// a new conversation does not stream unless asked to. A cancelled send
// returns StatusCancelled and a nil error; a failed send returns its error
// both in the Result and as the error.
func (c *Client) Send(ctx context.Context, req model.SendRequest, t *Transcript) (*Result, error) {
	if err := req.Validate(); err != nil {
		return &Result{Status: StatusFailed, Input: req.Message, Err: err}, err
	}

	stream := false
	if req.Stream != nil {
		stream = *req.Stream
	} else if conv := t.Snapshot(); conv != nil {
		stream = conv.Stream
	}
	req.Stream = model.Bool(stream)
	if req.ConversationID == "" {
		req.ConversationID = t.ID()
	}

	if err := t.begin(req, stream); err != nil {
		return &Result{Status: StatusFailed, Input: req.Message, Err: err}, err
	}

	start := time.Now()
	var res *Result
	if stream {
		res = c.sendStreaming(ctx, req, t)
	} else {
		res = c.sendOnce(ctx, req, t)
	}
	res.Duration = time.Since(start)
	return res, res.Err
}

// sendOnce is the non-streaming path: one request, one reply.
func (c *Client) sendOnce(ctx context.Context, req model.SendRequest, t *Transcript) *Result {
	sctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	var body chatBody
	err := c.do(sctx, http.MethodPost, "/api/chat", req, &body)
	if err != nil {
		t.rollback()
		if ctx.Err() != nil {
			return cancelled(req)
		}
		return &Result{Status: StatusFailed, Input: req.Message, Err: err}
	}

	t.finish(body.Conversation)
	return &Result{Status: StatusCompleted, Conversation: body.Conversation, Response: body.Response}
}

// sendStreaming reads the relay's event stream while polling the stored
// conversation, merging both into t.
func (c *Client) sendStreaming(ctx context.Context, req model.SendRequest, t *Transcript) *Result {
	resp, err := c.send(ctx, c.streamClient, http.MethodPost, "/api/chat", req)
	if err != nil {
		t.rollback()
		if ctx.Err() != nil {
			return cancelled(req)
		}
		return &Result{Status: StatusFailed, Input: req.Message, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.rollback()
		return &Result{Status: StatusFailed, Input: req.Message, Err: decodeError(resp)}
	}

	p := &poller{client: c, transcript: t}
	// The poll loop is always stopped before the transcript is settled.
	defer p.stop()

	reader := event.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			p.stop()
			t.rollback()
			if ctx.Err() != nil {
				return cancelled(req)
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			return &Result{Status: StatusFailed, Input: req.Message, Err: err}
		}

		switch ev := ev.(type) {
		case event.Started:
			t.setID(ev.ConversationID)
			p.start(ctx, ev.ConversationID)

		case event.Delta:
			t.appendDelta(ev.Content)

		case event.Done:
			p.stop()
			t.finish(ev.Conversation)
			return &Result{
				Status:       StatusCompleted,
				Conversation: ev.Conversation,
				Response:     lastReply(ev.Conversation),
			}

		case event.Failed:
			p.stop()
			t.rollback()
			return &Result{Status: StatusFailed, Input: req.Message, Err: &APIError{Message: ev.Message}}
		}
	}
}

func cancelled(req model.SendRequest) *Result {
	return &Result{Status: StatusCancelled, Input: req.Message}
}

func lastReply(conv *model.Conversation) string {
	if conv == nil {
		return ""
	}
	if last, ok := conv.LastMessage(); ok && last.Role == model.RoleAssistant {
		return last.Content
	}
	return ""
}

// =============================================================================
// POLL LOOP
// =============================================================================

// poller runs the store poll of one streaming send.
type poller struct {
	client     *Client
	transcript *Transcript

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// start begins polling id. Only the first call has an effect.
func (p *poller) start(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.stopped {
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(pctx, id)
}

// stop cancels the loop and waits for it to exit. Idempotent.
func (p *poller) stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *poller) run(ctx context.Context, id string) {
	defer close(p.done)

	ticker := time.NewTicker(p.client.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		conv, err := p.client.GetConversation(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// Polls are best effort; the event stream decides the outcome.
			p.client.logger.Printf("POLL_ERROR | conv=%s error=%v", id, err)
			continue
		}
		p.transcript.applySnapshot(conv)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// String renders a result for logs.
func (r *Result) String() string {
	switch r.Status {
	case StatusCompleted:
		id := ""
		if r.Conversation != nil {
			id = r.Conversation.ID
		}
		return fmt.Sprintf("completed conv=%s bytes=%d", id, len(r.Response))
	case StatusFailed:
		return fmt.Sprintf("failed: %v", r.Err)
	default:
		return r.Status.String()
	}
}

// MarshalJSON lets results be printed by the CLI's --json output.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Status       string              `json:"status"`
		Conversation *model.Conversation `json:"conversation,omitempty"`
		Response     string              `json:"response,omitempty"`
		Input        string              `json:"input,omitempty"`
		Error        string              `json:"error,omitempty"`
	}{
		Status:       r.Status.String(),
		Conversation: r.Conversation,
		Response:     r.Response,
		Input:        r.Input,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
