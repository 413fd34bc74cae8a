// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.theme.InputBorder.Width(max(m.width-2, 10)).Render(m.input.View()),
		m.renderStatus(),
	)
}

func (m Model) renderHeader() string {
	title, meta := model.DefaultTitle, ""
	if m.conv != nil {
		title = m.conv.Title
		meta = fmt.Sprintf("%s  temp %.1f", m.conv.Model, m.conv.Temperature)
		if m.conv.Stream {
			meta += "  streaming"
		}
	} else if m.modelName != "" {
		meta = m.modelName
	}

	title = util.TruncateRunes(title, max(m.width-lipgloss.Width(meta)-6, 10))
	line := m.theme.HeaderTitle.Render(title) + "  " + m.theme.HeaderMeta.Render(meta)
	return m.theme.Header.Width(m.width).Render(line)
}

func (m Model) renderStatus() string {
	var left string
	switch {
	case m.state == StateSending:
		left = m.spinner.View() + " " + m.theme.Status.Render("Generating...")
	case m.err != nil:
		left = m.theme.Error.Render("Error: " + util.SingleLine(m.err.Error()))
	case m.notice != "":
		left = m.theme.Warning.Render(m.notice)
	}

	help := m.theme.Help.Render(m.keys.ShortHelp(m.state == StateSending))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(help)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + help
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// renderTranscript draws every message of conv.
func (m Model) renderTranscript(conv *model.Conversation) string {
	if conv == nil || len(conv.Messages) == 0 {
		return m.theme.Placeholder.Render("Start a conversation by typing below.")
	}

	var b strings.Builder
	for i, msg := range conv.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg model.Message) string {
	if msg.Role == model.RoleUser {
		body := m.theme.UserText.Width(max(m.width-2, 10)).Render(msg.Content)
		return m.theme.UserLabel.Render(msg.Role.DisplayName()) + "\n" + body
	}

	label := m.theme.AssistantLabel.Render(msg.Role.DisplayName())
	var body string
	switch {
	case msg.Content == "" && msg.Status == model.StatusStreaming:
		body = m.theme.Placeholder.Render("  thinking...")
	case msg.Status == model.StatusStreaming:
		// PERFORMANCE: A growing reply changes every frame; skip the cache.
		body = m.markdown(msg.Content, false)
	default:
		body = m.markdown(msg.Content, true)
	}
	if msg.Status == model.StatusIncomplete {
		body += "\n" + m.theme.Incomplete.Render("  [incomplete]")
	}
	return label + "\n" + body
}

// markdown renders content with glamour, falling back to plain text.
func (m Model) markdown(content string, cached bool) string {
	if m.renderer == nil {
		return content
	}
	if cached {
		if out, ok := m.cache.get(content); ok {
			return out
		}
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	out = strings.TrimRight(out, "\n")
	if cached {
		m.cache.put(content, out)
	}
	return out
}

// renderCache maps finished message content to its rendered markdown.
// Cleared whenever the wrap width changes.
type renderCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newRenderCache() *renderCache {
	return &renderCache{entries: make(map[string]string)}
}

func (c *renderCache) get(content string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.entries[content]
	return out, ok
}

func (c *renderCache) put(content, out string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[content] = out
}

func (c *renderCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
}
