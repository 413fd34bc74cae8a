// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/model"
)

// Layout rows outside the viewport: header, input box (3 lines plus
// border) and status bar.
const chromeHeight = 1 + 5 + 1

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg.Width, msg.Height), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case FrameTickMsg:
		if conv, ok := m.buffer.Flush(); ok {
			m = m.draw(conv)
		}
		if m.state == StateSending {
			return m, m.buffer.frameTickCmd()
		}
		return m, nil

	case SendDoneMsg:
		return m.handleSendDone(msg.Result), nil

	case spinner.TickMsg:
		if m.state != StateSending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.canceller.Cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		// Esc during a send cancels it; the input comes back with SendDoneMsg.
		if m.state == StateSending {
			m.canceller.Cancel()
			return m, nil
		}
		m.err = nil
		m.notice = ""
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.NewConversation):
		return m.newConversation(), nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a send with the editor contents.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.state == StateSending {
		return m, nil
	}

	req := model.SendRequest{Message: text}
	if m.conv == nil {
		// New conversations take the client preferences; existing ones keep
		// their own settings.
		req.Model = m.modelName
		req.Temperature = model.Float(m.temperature)
		req.Stream = model.Bool(m.stream)
	}

	m.input.Reset()
	m.state = StateSending
	m.err = nil
	m.notice = ""

	ctx := m.canceller.Start(context.Background())
	return m, tea.Batch(
		sendCmd(ctx, m.client, req, m.transcript),
		m.buffer.frameTickCmd(),
		m.spinner.Tick,
	)
}

// handleSendDone settles the screen after a send.
func (m Model) handleSendDone(res *client.Result) Model {
	m.canceller.Clear()
	m.state = StateReady
	if conv, ok := m.buffer.ForceFlush(); ok {
		m = m.draw(conv)
	}
	if res == nil {
		return m
	}

	switch res.Status {
	case client.StatusCompleted:
		if res.Conversation != nil {
			m = m.draw(res.Conversation)
		}
	case client.StatusCancelled:
		m.notice = "Cancelled"
		m.input.SetValue(res.Input)
	case client.StatusFailed:
		m.err = res.Err
		if errors.Is(res.Err, client.ErrSendInProgress) {
			// The transcript never started; keep what the user typed since.
			break
		}
		m.input.SetValue(res.Input)
	}
	return m
}

// newConversation clears the screen for a new conversation.
func (m Model) newConversation() Model {
	if m.state == StateSending {
		return m
	}
	if err := m.transcript.Reset(nil); err != nil {
		m.err = err
		return m
	}
	m.buffer.ForceFlush()
	m.err = nil
	m.notice = ""
	return m.draw(nil)
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) resize(width, height int) Model {
	m.width = width
	m.height = height
	m.ready = true

	m.input.SetWidth(max(width-2, 10))
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight, 1)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.glamourStyle),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err == nil {
		m.renderer = renderer
		m.cache.reset()
	}
	return m.draw(m.conv)
}

// draw shows conv, keeping the view pinned to the bottom if it was there.
func (m Model) draw(conv *model.Conversation) Model {
	m.conv = conv
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript(conv))
	if atBottom || m.state == StateSending {
		m.viewport.GotoBottom()
	}
	return m
}
