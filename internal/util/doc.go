// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the rigchat packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync, used by the file
//     conversation store and the settings writer
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateRunesNoEllipsis: UTF-8 safe truncation without ellipsis
//   - SingleLine: collapse whitespace runs for one-line display
//
// # Usage
//
//	display := util.TruncateRunes(util.SingleLine(title), 40)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
