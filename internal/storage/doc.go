// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable conversation persistence.
//
// Every backend implements Store: whole-conversation reads and writes plus
// a targeted update of one message's content, which is what the relay
// issues once per streamed fragment.
//
// # Backends
//
//   - SQLiteStore: default, modernc.org/sqlite, schema managed by golang-migrate
//   - PostgresStore: pgx connection pool, schema managed by golang-migrate
//   - BoltStore: single bbolt file, one JSON document per conversation
//   - FileStore: one JSON file per conversation, atomic writes
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: dbPath})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	conv, err := store.Get(ctx, id)
//	if errors.Is(err, storage.ErrNotFound) {
//	    ...
//	}
//
// One Store is opened per process and shared by every request. All
// implementations are safe for concurrent use.
package storage
