// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - The "rigchat chat" command.
//
// In a terminal this opens the full-screen chat. With --plain, or when
// stdin/stdout are not terminals, it runs a line-mode REPL with history.
//
// REPL commands:
//
//	/new      Start a new conversation
//	/id       Show the conversation id
//	/help     Show commands
//	/quit     Exit (also Ctrl+D)
//
// Ctrl+C cancels a reply being generated; the message is offered again at
// the next prompt.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ui/chat"
)

// HandleChat starts an interactive chat.
func HandleChat(ctx context.Context, env *Env, args Args) error {
	var conv *model.Conversation
	if args.ID != "" {
		id, err := expandID(ctx, env, "chat", args.ID)
		if err != nil {
			return err
		}
		if conv, err = env.Client.GetConversation(ctx, id); err != nil {
			return wrapCommand("chat", "load conversation", err)
		}
	}

	temperature := env.Config.Client.Temperature
	if args.Temperature != nil {
		temperature = *args.Temperature
	}
	stream := env.Config.Client.Stream
	if args.NoStream {
		stream = false
	}

	if args.Plain || !Interactive() {
		repl := &REPL{
			env:         env,
			model:       env.Config.Client.Model,
			temperature: temperature,
			stream:      stream,
		}
		return repl.Run(ctx, conv)
	}

	return chat.Run(chat.Options{
		Client:       env.Client,
		Conversation: conv,
		Model:        env.Config.Client.Model,
		Temperature:  temperature,
		Stream:       stream,
	})
}

// =============================================================================
// LINE INPUT
// =============================================================================

// LineReader reads one line of input. prefill is offered as editable text.
type LineReader interface {
	ReadLine(prompt, prefill string) (string, error)
	Close() error
}

// errEndOfInput is returned by a LineReader at Ctrl+D or Ctrl+C.
var errEndOfInput = errors.New("end of input")

// linerReader provides history and line editing.
// USABILITY: Supports arrow keys for history navigation and line editing.
type linerReader struct {
	line        *liner.State
	historyFile string
}

// newLinerReader creates a reader with history loaded from the config
// directory.
func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) ReadLine(prompt, prefill string) (string, error) {
	var (
		input string
		err   error
	)
	if prefill != "" {
		input, err = r.line.PromptWithSuggestion(prompt, prefill, -1)
	} else {
		input, err = r.line.Prompt(prompt)
	}
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", errEndOfInput
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
// SECURITY: History is written with 0600 permissions.
func (r *linerReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the line-mode chat.
type REPL struct {
	env        *Env
	input      LineReader
	transcript *client.Transcript
	printer    *tokenPrinter

	// Settings for new conversations.
	model       string
	temperature float64
	stream      bool
}

// Run reads messages until end of input. conv is continued if not nil.
func (r *REPL) Run(ctx context.Context, conv *model.Conversation) error {
	if r.input == nil {
		r.input = newLinerReader()
	}
	defer r.input.Close()

	r.printer = newTokenPrinter(r.env.Stdout)
	r.transcript = client.NewTranscript(conv, r.printer.render)

	if conv != nil {
		fmt.Fprintf(r.env.Stdout, "%s %s (%d messages)\n",
			labelStyle.Render("Continuing"), conv.Title, len(conv.Messages))
	}
	fmt.Fprintln(r.env.Stdout, mutedStyle.Render("Type /help for commands, Ctrl+D to exit."))

	prefill := ""
	for {
		line, err := r.input.ReadLine(promptStyle.Render("rigchat> "), prefill)
		prefill = ""
		if errors.Is(err, errEndOfInput) {
			fmt.Fprintln(r.env.Stdout)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if quit := r.command(line); quit {
				return nil
			}
			continue
		}

		res, err := runSend(ctx, r.env, r.transcript, r.printer, r.request(line))
		switch {
		case err != nil:
			DisplayError(r.env.Stderr, err, false)
			if !errors.Is(err, client.ErrSendInProgress) {
				prefill = res.Input
			}
		case res.Status == client.StatusCancelled:
			fmt.Fprintln(r.env.Stderr, warningStyle.Render("[Cancelled]"))
			prefill = res.Input
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// request builds the send for line.
func (r *REPL) request(line string) model.SendRequest {
	req := model.SendRequest{Message: line}
	if r.transcript.ID() == "" {
		req.Model = r.model
		req.Temperature = model.Float(r.temperature)
		req.Stream = model.Bool(r.stream)
	}
	return req
}

// command runs a slash command and reports whether to quit.
func (r *REPL) command(line string) bool {
	name, _, _ := strings.Cut(line, " ")
	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true
	case "/new":
		if err := r.transcript.Reset(nil); err != nil {
			DisplayError(r.env.Stderr, err, false)
			return false
		}
		fmt.Fprintln(r.env.Stdout, successStyle.Render("Started a new conversation."))
	case "/id":
		if id := r.transcript.ID(); id != "" {
			fmt.Fprintln(r.env.Stdout, id)
		} else {
			fmt.Fprintln(r.env.Stdout, mutedStyle.Render("No messages yet."))
		}
	case "/help":
		fmt.Fprintln(r.env.Stdout, "/new   Start a new conversation")
		fmt.Fprintln(r.env.Stdout, "/id    Show the conversation id")
		fmt.Fprintln(r.env.Stdout, "/quit  Exit")
	default:
		fmt.Fprintf(r.env.Stderr, "%s unknown command %s (try /help)\n", errorStyle.Render("[ERROR]"), name)
	}
	return false
}
