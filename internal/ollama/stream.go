// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream reads the line-delimited JSON body of a streaming chat response.
//
// Next must be called from a single goroutine. Close may be called from any
// goroutine and is idempotent.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	model  string

	done      bool
	err       error
	fragments int
	skipped   int

	closeOnce sync.Once
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// NewStream wraps an already-open chunked body. Mostly useful in tests.
func NewStream(ctx context.Context, body io.ReadCloser) *Stream {
	return newStream(ctx, body)
}

// Next returns the next fragment. It returns io.EOF after the done
// fragment has been delivered. Any other error is terminal and sticky.
func (s *Stream) Next() (Fragment, error) {
	if s.err != nil {
		return Fragment{}, s.err
	}
	if s.done {
		return Fragment{}, io.EOF
	}

	for {
		line, readErr := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			frag, ok, err := s.decode(line)
			if err != nil {
				s.err = err
				return Fragment{}, err
			}
			if ok {
				return frag, nil
			}
		}

		if readErr != nil {
			s.err = s.readError(readErr)
			return Fragment{}, s.err
		}
	}
}

// decode parses one line. ok is false for lines that were skipped.
func (s *Stream) decode(line []byte) (Fragment, bool, error) {
	var resp ChatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		// Partial buffering artifacts; the next line is usually fine.
		s.skipped++
		return Fragment{}, false, nil
	}
	if resp.Error != "" {
		return Fragment{}, false, &ClientError{Type: ErrTypeInvalidResponse, Message: resp.Error}
	}

	if resp.Model != "" {
		s.model = resp.Model
	}

	frag := Fragment{
		Content:    resp.Message.Content,
		Done:       resp.Done,
		DoneReason: resp.DoneReason,
		Model:      s.model,
	}
	if resp.Done {
		frag.PromptTokens = resp.PromptEvalCount
		frag.CompletionTokens = resp.EvalCount
		frag.TotalDuration = time.Duration(resp.TotalDuration)
		s.done = true
	}
	s.fragments++
	return frag, true, nil
}

func (s *Stream) readError(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return ErrStreamTruncated
	}
	return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
}

// Close releases the response body.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

// Fragments returns how many fragments were decoded so far.
func (s *Stream) Fragments() int { return s.fragments }

// Skipped returns how many malformed lines were dropped.
func (s *Stream) Skipped() int { return s.skipped }
