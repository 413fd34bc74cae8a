// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/rigchat/internal/client"
)

// FrameTickMsg asks the model to draw the latest transcript render.
type FrameTickMsg struct {
	Time time.Time
}

// SendDoneMsg reports the end of a send.
type SendDoneMsg struct {
	Result *client.Result
}
