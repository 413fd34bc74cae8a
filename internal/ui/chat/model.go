// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigchat/internal/client"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// =============================================================================
// STATE
// =============================================================================

// State is the chat screen's send state.
type State int

const (
	StateReady State = iota
	StateSending
)

// Options configures a chat screen.
type Options struct {
	Client *client.Client

	// Conversation is the conversation to continue; nil starts a new one.
	Conversation *model.Conversation

	// Settings for new conversations.
	Model       string
	Temperature float64
	Stream      bool

	// Theme defaults to styles.NewTheme(). GlamourStyle defaults to the
	// theme's light or dark style.
	Theme        *styles.Theme
	GlamourStyle string
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model of the chat screen.
//
// The transcript owns the conversation; the model only draws what the
// transcript last rendered. Pointer fields are shared across the copies
// Bubble Tea makes on every Update.
type Model struct {
	client     *client.Client
	transcript *client.Transcript
	canceller  *client.Canceller
	buffer     *RenderBuffer
	cache      *renderCache

	theme        *styles.Theme
	glamourStyle string
	keys         KeyMap

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	// conv is the last conversation drawn.
	conv  *model.Conversation
	state State

	// Outcome of the last send, shown in the status bar.
	notice string
	err    error

	// Settings for new conversations.
	modelName   string
	temperature float64
	stream      bool

	width  int
	height int
	ready  bool
}

// New creates a chat screen.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	glamourStyle := opts.GlamourStyle
	if glamourStyle == "" {
		glamourStyle = theme.GlamourStyle()
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = DefaultKeyMap().Newline
	ta.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	buffer := NewRenderBuffer()
	return Model{
		client:       opts.Client,
		transcript:   client.NewTranscript(opts.Conversation, buffer.Store),
		canceller:    client.NewCanceller(), // Pointer: survives Bubble Tea's model copies
		buffer:       buffer,
		cache:        newRenderCache(),
		theme:        theme,
		glamourStyle: glamourStyle,
		keys:         DefaultKeyMap(),
		viewport:     vp,
		input:        ta,
		spinner:      sp,
		conv:         opts.Conversation.Clone(),
		state:        StateReady,
		modelName:    opts.Model,
		temperature:  opts.Temperature,
		stream:       opts.Stream,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Conversation returns the conversation currently shown.
func (m Model) Conversation() *model.Conversation {
	return m.conv.Clone()
}

// State returns the send state.
func (m Model) State() State {
	return m.state
}

// Input returns the editor contents.
func (m Model) Input() string {
	return m.input.Value()
}

// =============================================================================
// PROGRAM
// =============================================================================

// Run shows the chat screen until the user quits. A send still running at
// quit is cancelled.
func Run(opts Options) error {
	m := New(opts)
	defer m.canceller.Cancel()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

// sendCmd runs one send on its own goroutine.
func sendCmd(ctx context.Context, c *client.Client, req model.SendRequest, t *client.Transcript) tea.Cmd {
	return func() tea.Msg {
		res, _ := c.Send(ctx, req, t)
		return SendDoneMsg{Result: res}
	}
}
