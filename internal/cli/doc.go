// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for rigchat.
//
// Every command except serve talks to a running rigchat server through
// client.Client; serve wires the store, the Ollama client, the relay
// service and the HTTP server together.
//
// # Key Types
//
//   - Command: Enumeration of the available commands
//   - Args: Parsed global and command-specific flags
//   - Env: Configuration, API client and output streams a command runs against
//   - REPL: Line-mode chat over a client.Transcript
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err != nil {
//	    cli.DisplayError(os.Stderr, err, false)
//	    os.Exit(cli.ExitUsageError)
//	}
//	os.Exit(cli.Run(context.Background(), cmd, args, os.Stdout, os.Stderr))
//
// # Commands Overview
//
//   - serve: Run the relay server
//   - chat: Interactive chat (full-screen, or line mode with --plain)
//   - ask: One message, reply streamed to stdout
//   - ls, show, rm, rename: Conversation management
//   - models: Backend models
//   - export: Markdown or JSON copy of a conversation
//   - settings: Show and persist configuration
//
// Handlers return errors rather than exiting; Run maps them to exit codes
// with GetExitCode. Most commands support --json.
package cli
