// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the rigchat HTTP API.
//
// # Endpoints
//
//   - POST   /api/chat                - Send a message (event stream or JSON reply)
//   - GET    /api/conversations       - List conversation summaries
//   - POST   /api/conversations       - Create an empty conversation
//   - GET    /api/conversations/{id}  - Fetch one conversation (poll target)
//   - PUT    /api/conversations/{id}  - Rename or change settings
//   - DELETE /api/conversations/{id}  - Delete a conversation
//   - GET    /api/models              - List backend models
//   - GET    /health                  - Health check
//
// Streaming replies are text/event-stream frames of the form
// "data: <json>\n\n", produced by package event.
//
// # Middleware
//
//   - Panic recovery with stack trace logging
//   - Security headers
//   - Request logging that preserves http.Flusher
//   - Per-client token bucket rate limiting
//   - CORS for local web front ends
//
// # Usage
//
//	relays := relay.NewService(store, relay.NewOllamaBackend(client), relay.DefaultConfig(), logger)
//	srv := server.NewServer(server.DefaultConfig(), store, relays, client, logger)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
