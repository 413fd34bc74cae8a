// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxFrameSize bounds one frame. Done frames carry a whole conversation.
const MaxFrameSize = 16 << 20

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("event: streaming not supported by response writer")

// =============================================================================
// WRITER
// =============================================================================

// Writer frames events onto an HTTP response and flushes after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter sets the event-stream headers on w. It fails when w cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one frame and flushes it to the client.
func (w *Writer) Send(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// READER
// =============================================================================

// Reader parses frames from an event stream.
type Reader struct {
	scanner *bufio.Scanner
	skipped int
}

// NewReader reads frames from r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &Reader{scanner: scanner}
}

// Next returns the next well-formed event. Frames whose payload does not
// decode are skipped. Returns io.EOF at the end of the stream.
func (r *Reader) Next() (Event, error) {
	for {
		data, err := r.readFrame()
		if err != nil {
			return nil, err
		}
		ev, err := Decode([]byte(data))
		if err != nil {
			r.skipped++
			continue
		}
		return ev, nil
	}
}

// Skipped returns how many frames were dropped as malformed.
func (r *Reader) Skipped() int { return r.skipped }

// readFrame collects data lines until a blank line.
func (r *Reader) readFrame() (string, error) {
	var data strings.Builder
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if hasData {
				return data.String(), nil
			}
			continue
		}

		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
			hasData = true
		}
		// Ignore comments (lines starting with ':') and other fields.
	}

	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	if hasData {
		return data.String(), nil
	}
	return "", io.EOF
}
