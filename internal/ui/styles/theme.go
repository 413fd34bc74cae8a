// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// Theme holds the styled components of the chat screen.
type Theme struct {
	IsDark bool

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderMeta  lipgloss.Style

	// Transcript
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style
	Incomplete     lipgloss.Style
	Placeholder    lipgloss.Style

	// Input and status line
	InputBorder lipgloss.Style
	Status      lipgloss.Style
	Error       lipgloss.Style
	Warning     lipgloss.Style
	Spinner     lipgloss.Style
	Help        lipgloss.Style
}

// NewTheme creates a theme for the terminal's background.
func NewTheme() *Theme {
	return NewThemeFor(lipgloss.HasDarkBackground())
}

// NewThemeFor creates a theme for a known background.
func NewThemeFor(isDark bool) *Theme {
	t := &Theme{IsDark: isDark}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.HeaderMeta = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.UserLabel = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.AssistantLabel = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)
	t.UserText = lipgloss.NewStyle().
		Foreground(TextPrimary).
		PaddingLeft(2)
	t.Incomplete = lipgloss.NewStyle().
		Foreground(Amber).
		Italic(true)
	t.Placeholder = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.InputBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay)
	t.Status = lipgloss.NewStyle().
		Foreground(TextSecondary)
	t.Error = lipgloss.NewStyle().
		Foreground(Rose)
	t.Warning = lipgloss.NewStyle().
		Foreground(Amber)
	t.Spinner = lipgloss.NewStyle().
		Foreground(Purple)
	t.Help = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// GlamourStyle names the glamour style matching the background.
func (t *Theme) GlamourStyle() string {
	if t.IsDark {
		return "dark"
	}
	return "light"
}
