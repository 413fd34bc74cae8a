// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and dispatch for rigchat.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdServe
	CmdAsk
	CmdList
	CmdShow
	CmdDelete
	CmdRename
	CmdModels
	CmdExport
	CmdSettings
	CmdVersion
	CmdHelp
)

var commandNames = map[string]Command{
	"chat":     CmdChat,
	"serve":    CmdServe,
	"server":   CmdServe,
	"ask":      CmdAsk,
	"ls":       CmdList,
	"list":     CmdList,
	"show":     CmdShow,
	"rm":       CmdDelete,
	"delete":   CmdDelete,
	"rename":   CmdRename,
	"models":   CmdModels,
	"export":   CmdExport,
	"settings": CmdSettings,
	"config":   CmdSettings,
	"version":  CmdVersion,
	"help":     CmdHelp,
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	ServerURL  string
	Model      string
	Verbose    bool
	JSON       bool // Output in JSON format

	// Command-specific
	ID          string
	Plain       bool // Line-mode chat instead of the full-screen TUI
	NoStream    bool
	Stream      bool
	Temperature *float64
	Confirm     bool
	Addr        string
	Format      string // export format
	Output      string // export destination
	Partial     bool   // export unfinished replies

	// Positional arguments after the command name.
	Positional []string
}

const usageText = `rigchat - chat with a local Ollama model, with durable conversations

Usage:
  rigchat                            Start interactive chat (default)
  rigchat serve                      Run the relay server
  rigchat chat                       Interactive chat
  rigchat ask "question"             Send one message and print the reply
  rigchat ls                         List conversations
  rigchat show ID                    Show a conversation
  rigchat rm ID --confirm            Delete a conversation
  rigchat rename ID TITLE            Rename a conversation
  rigchat models                     List models the backend can serve
  rigchat export ID [-f md|json]     Export a conversation
  rigchat settings                   Show configuration
  rigchat settings set KEY VALUE     Persist a setting
  rigchat version                    Show version

Chat / Ask Flags:
  --id ID                 Continue an existing conversation
  -m, --model NAME        Model for new conversations
  -t, --temperature N     Temperature for new conversations (0-2)
  --stream, --no-stream   Stream the reply or wait for it whole
  --plain                 Line-mode chat (default when not a terminal)

Export Flags:
  -f, --format FORMAT     markdown (default) or json
  -o, --output PATH       File or directory to write ("-" for stdout)
  --complete-only         Leave out unfinished replies

Serve Flags:
  --addr HOST:PORT        Listen address (default 127.0.0.1:8787)

Global Flags:
  -c, --config FILE       Config file (default ~/.rigchat/config.toml)
  -s, --server URL        rigchat server URL
  --json                  Output in JSON format
  -v, --verbose           Debug output

Examples:
  rigchat serve                           Start the server
  rigchat ask "What is a goroutine?"      One-shot question
  rigchat ask --id 3f2a... "and channels?" Follow up in a conversation
  rigchat chat --model llama3.2 -t 0.2    Chat with a specific model
  rigchat settings set client.stream false
  rigchat settings set client.model llama3.2

Environment:
  RIGCHAT_SERVER_URL, RIGCHAT_CLIENT_MODEL, RIGCHAT_STREAM,
  OLLAMA_API_URL, DATABASE_URL and the RIGCHAT_* server settings
  override the config file.

Version: %s
`

// PrintUsage writes the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// =============================================================================
// PARSING
// =============================================================================

var (
	boolFlagNames  = []string{"v", "verbose", "json", "plain", "no-stream", "stream", "confirm", "y", "complete-only", "h", "help", "version"}
	valueFlagNames = []string{"c", "config", "s", "server", "m", "model", "id", "t", "temperature", "addr", "f", "format", "o", "output"}
)

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlagNames...)
	for _, name := range p.FlagNames() {
		if !slices.Contains(boolFlagNames, name) && !slices.Contains(valueFlagNames, name) {
			return CmdHelp, Args{}, errUsage("", "unknown flag --"+name, "rigchat help")
		}
	}

	args := Args{
		ConfigPath: p.Flag("config", "c"),
		ServerURL:  p.Flag("server", "s"),
		Model:      p.Flag("model", "m"),
		Verbose:    p.BoolFlag("verbose", "v"),
		JSON:       p.BoolFlag("json"),
		ID:         p.Flag("id"),
		Plain:      p.BoolFlag("plain"),
		NoStream:   p.BoolFlag("no-stream"),
		Stream:     p.BoolFlag("stream"),
		Confirm:    p.BoolFlag("confirm", "y"),
		Addr:       p.Flag("addr"),
		Format:     p.Flag("format", "f"),
		Output:     p.Flag("output", "o"),
		Partial:    !p.BoolFlag("complete-only"),
	}
	if args.Stream && args.NoStream {
		return CmdHelp, Args{}, errUsage("", "--stream and --no-stream are exclusive", "")
	}
	if raw := p.Flag("temperature", "t"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return CmdHelp, Args{}, errUsage("", "invalid temperature "+strconv.Quote(raw), "--temperature 0.7")
		}
		if err := model.ValidateTemperature(t); err != nil {
			return CmdHelp, Args{}, err
		}
		args.Temperature = &t
	}

	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	positional := p.Positional()
	if len(positional) == 0 {
		return CmdChat, args, nil
	}
	cmd, ok := commandNames[strings.ToLower(positional[0])]
	if !ok {
		return CmdHelp, Args{}, errUsage("", "unknown command "+strconv.Quote(positional[0]), "rigchat help")
	}
	args.Positional = positional[1:]
	return cmd, args, nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Env is what a command runs against.
type Env struct {
	Config     *config.Config
	ConfigPath string
	Client     *client.Client
	Stdin      io.Reader // Piped input for ask; nil in tests
	Stdout     io.Writer
	Stderr     io.Writer
	Logger     *log.Logger
}

type handler func(ctx context.Context, env *Env, args Args) error

var handlers = map[Command]handler{
	CmdChat:     HandleChat,
	CmdServe:    HandleServe,
	CmdAsk:      HandleAsk,
	CmdList:     HandleList,
	CmdShow:     HandleShow,
	CmdDelete:   HandleDelete,
	CmdRename:   HandleRename,
	CmdModels:   HandleModels,
	CmdExport:   HandleExport,
	CmdSettings: HandleSettings,
}

// Run executes cmd and returns the process exit code.
func Run(ctx context.Context, cmd Command, args Args, stdout, stderr io.Writer) int {
	setupColors()

	switch cmd {
	case CmdHelp:
		PrintUsage(stdout)
		return ExitSuccess
	case CmdVersion:
		PrintVersion(stdout)
		return ExitSuccess
	}

	env, err := NewEnv(args, stdout, stderr)
	if err == nil {
		err = handlers[cmd](ctx, env, args)
	}
	if err != nil {
		DisplayError(stderr, err, args.JSON)
	}
	return GetExitCode(err)
}

// NewEnv loads configuration, applies flag overrides and builds the API
// client.
func NewEnv(args Args, stdout, stderr io.Writer) (*Env, error) {
	path := args.ConfigPath
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}

	if args.ServerURL != "" {
		cfg.Client.ServerURL = args.ServerURL
	}
	if args.Model != "" {
		cfg.Client.Model = args.Model
		cfg.Relay.DefaultModel = args.Model
	}
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	logger := log.New(io.Discard, "", 0)
	if args.Verbose {
		logger = log.New(stderr, "", log.LstdFlags)
	}

	clientCfg := cfg.ClientConfig()
	clientCfg.Logger = logger
	return &Env{
		Config:     cfg,
		ConfigPath: path,
		Client:     client.New(clientCfg),
		Stdin:      os.Stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		Logger:     logger,
	}, nil
}
