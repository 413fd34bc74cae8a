// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The "rigchat serve" command: runs the relay server until
// SIGINT or SIGTERM.
package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/relay"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/storage"
)

// ShutdownTimeout bounds the graceful shutdown of the server, including
// the time running relays take to mark their replies incomplete.
const ShutdownTimeout = 10 * time.Second

// HandleServe runs the HTTP server.
func HandleServe(ctx context.Context, env *Env, args Args) error {
	if len(args.Positional) > 0 {
		return errUsage("serve", "unexpected arguments", "rigchat serve [--addr HOST:PORT]")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(env.Stderr, "", log.LstdFlags)
	cfg := env.Config
	// Settings bind when the store, client and relays are built below;
	// edits to the file apply on the next start.
	logger.Printf("CONFIG_LOADED | path=%s", env.ConfigPath)

	store, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return wrapCommand("serve", "open store", err)
	}
	// Closed after srv.Shutdown has drained the relays.
	defer store.Close()
	if v, ok := store.(interface{ SchemaVersion() uint }); ok {
		logger.Printf("STORE_OPEN | driver=%s schema=%d", cfg.Storage.Driver, v.SchemaVersion())
	} else {
		logger.Printf("STORE_OPEN | driver=%s", cfg.Storage.Driver)
	}

	backend := ollama.NewClientWithConfig(cfg.OllamaConfig())
	if err := backend.CheckRunning(ctx); err != nil {
		// Not fatal: chat requests report the outage until Ollama starts.
		logger.Printf("OLLAMA_UNAVAILABLE | url=%s error=%v", cfg.Ollama.URL, err)
	}

	relays := relay.NewService(store, relay.NewOllamaBackend(backend), cfg.RelayConfig(), logger)
	srv := server.NewServer(cfg.ServerConfig(), store, relays, backend, logger)

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return wrapCommand("serve", "listen", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	fmt.Fprintf(env.Stdout, "rigchat %s listening on http://%s\n", Version, ln.Addr())

	select {
	case err := <-errCh:
		return wrapCommand("serve", "listen", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return wrapCommand("serve", "shutdown", err)
	}
	return wrapCommand("serve", "listen", <-errCh)
}
