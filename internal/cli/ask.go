// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - The "rigchat ask" command: sends one message and streams the
// reply to stdout.
//
// Examples:
//
//	rigchat ask "What is the capital of France?"
//	rigchat ask --id 3f2a9c1e-... "And of Spain?"
//	echo "summarise this" | rigchat ask
//	rigchat ask --no-stream --json "List three colors"
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/model"
)

// MaxStdinSize caps a message piped on stdin (1MB).
const MaxStdinSize = 1 << 20

// HandleAsk sends a single message.
func HandleAsk(ctx context.Context, env *Env, args Args) error {
	message := strings.TrimSpace(strings.Join(args.Positional, " "))
	if message == "" && env.Stdin != nil && !IsTTY() {
		data, err := io.ReadAll(io.LimitReader(env.Stdin, MaxStdinSize))
		if err != nil {
			return wrapCommand("ask", "read stdin", err)
		}
		message = strings.TrimSpace(string(data))
	}
	if message == "" {
		return errUsage("ask", "message is required", `rigchat ask [--id ID] [--no-stream] "question"`)
	}

	var conv *model.Conversation
	if args.ID != "" {
		id, err := expandID(ctx, env, "ask", args.ID)
		if err != nil {
			return err
		}
		if conv, err = env.Client.GetConversation(ctx, id); err != nil {
			return wrapCommand("ask", "load conversation", err)
		}
	}

	// JSON output is the result object alone.
	out := env.Stdout
	if args.JSON {
		out = io.Discard
	}
	printer := newTokenPrinter(out)
	t := client.NewTranscript(conv, printer.render)

	res, err := runSend(ctx, env, t, printer, buildRequest(env, args, conv, message))
	if args.JSON && res != nil {
		if jerr := writeJSON(env.Stdout, res); jerr != nil {
			return jerr
		}
	}
	if err != nil {
		return err
	}
	if res.Status == client.StatusCancelled {
		fmt.Fprintln(env.Stderr, warningStyle.Render("[Cancelled]"))
		return errCancelled
	}

	if conv == nil && !args.JSON && res.Conversation != nil {
		fmt.Fprintln(env.Stderr, mutedStyle.Render("conversation "+res.Conversation.ID))
	}
	return nil
}

// buildRequest assembles the send for message. New conversations take
// the configured client preferences; existing ones keep their own settings
// unless a flag overrides them.
func buildRequest(env *Env, args Args, conv *model.Conversation, message string) model.SendRequest {
	req := model.SendRequest{Message: message, Temperature: args.Temperature}
	if conv == nil {
		req.Model = env.Config.Client.Model
		if req.Temperature == nil {
			req.Temperature = model.Float(env.Config.Client.Temperature)
		}
		req.Stream = model.Bool(env.Config.Client.Stream)
	} else {
		req.ConversationID = conv.ID
		req.Model = args.Model
	}

	switch {
	case args.NoStream:
		req.Stream = model.Bool(false)
	case args.Stream:
		req.Stream = model.Bool(true)
	}
	return req
}

// runSend sends req through t, printing the reply as it arrives. Ctrl+C
// cancels the send instead of killing the process.
func runSend(ctx context.Context, env *Env, t *client.Transcript, p *tokenPrinter, req model.SendRequest) (*client.Result, error) {
	base := 0
	if conv := t.Snapshot(); conv != nil {
		base = len(conv.Messages)
	}
	// The reply follows the user message.
	p.expect(base + 1)

	canceller := client.NewCanceller()
	sendCtx := canceller.Start(ctx)
	defer canceller.Clear()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			canceller.Cancel()
		case <-sendCtx.Done():
		}
	}()

	res, err := env.Client.Send(sendCtx, req, t)
	p.finish()
	env.Logger.Printf("SEND | %s", res)
	return res, err
}

// =============================================================================
// TOKEN PRINTER
// =============================================================================

// tokenPrinter writes one reply to w as the transcript renders it. Only
// the growth since the last render is written, so a reply that is
// refreshed by a poll is not printed twice. A rollback shrinks the
// transcript below the reply and prints nothing.
type tokenPrinter struct {
	w io.Writer

	mu      sync.Mutex
	index   int
	printed string
}

func newTokenPrinter(w io.Writer) *tokenPrinter {
	return &tokenPrinter{w: w, index: -1}
}

// expect starts a new reply at message index.
func (p *tokenPrinter) expect(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = index
	p.printed = ""
}

// render is the transcript's RenderFunc.
func (p *tokenPrinter) render(conv *model.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conv == nil || p.index < 0 || p.index >= len(conv.Messages) {
		return
	}
	msg := conv.Messages[p.index]
	if msg.Role != model.RoleAssistant || !strings.HasPrefix(msg.Content, p.printed) {
		return
	}
	if rest := msg.Content[len(p.printed):]; rest != "" {
		fmt.Fprint(p.w, rest)
		p.printed = msg.Content
	}
}

// finish ends the current reply with a newline if anything was printed.
func (p *tokenPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.w)
	}
	p.index = -1
}

// Printed returns what was printed of the current reply.
func (p *tokenPrinter) Printed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printed
}
