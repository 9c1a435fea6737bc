package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/exo/internal/models"
	"github.com/mpataki/exo/internal/state"
)

const inputHeight = 3

type App struct {
	router *state.Router
	events <-chan state.Event

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	actions []models.Action
	follow  bool

	width  int
	height int
	err    error
}

func NewApp(router *state.Router) *App {
	ti := textinput.New()
	ti.Prompt = "❯ "
	ti.Placeholder = "type a command and press enter"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = statusRunning

	return &App{
		router:   router,
		events:   router.Subscribe(64),
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		follow:   true,
	}
}

func (a *App) Init() tea.Cmd {
	a.refresh()
	return tea.Batch(textinput.Blink, a.spinner.Tick, a.waitForEvent())
}

// Messages

type stateChangedMsg struct{}

type eventsClosedMsg struct{}

// waitForEvent blocks until the router reports a change, then drains any
// queued events so a burst of output causes one refresh.
func (a *App) waitForEvent() tea.Cmd {
	events := a.events
	return func() tea.Msg {
		if _, ok := <-events; !ok {
			return eventsClosedMsg{}
		}
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return stateChangedMsg{}
				}
			default:
				return stateChangedMsg{}
			}
		}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-inputHeight, 1)
		a.input.Width = max(msg.Width-4, 1)
		a.refresh()
		return a, nil

	case stateChangedMsg:
		a.refresh()
		return a, a.waitForEvent()

	case eventsClosedMsg:
		return a, nil

	case dispatchedMsg:
		if msg.err != nil {
			a.err = msg.err
			a.refresh()
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		if a.hasRunning() {
			a.render()
		}
		return a, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		a.follow = a.viewport.AtBottom()
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return a, tea.Quit

	case "enter":
		return a, a.submit()

	case "pgup", "pgdown", "up", "down", "home", "end":
		var cmd tea.Cmd
		switch msg.String() {
		case "home":
			a.viewport.GotoTop()
		case "end":
			a.viewport.GotoBottom()
		default:
			a.viewport, cmd = a.viewport.Update(msg)
		}
		a.follow = a.viewport.AtBottom()
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	if err := a.router.SetInput(a.input.Value()); err != nil {
		a.err = err
	}
	return a, cmd
}

// dispatchTimeout bounds how long a dispatch command waits on a full
// worker queue.
const dispatchTimeout = 10 * time.Second

type dispatchedMsg struct{ err error }

// submit stages the pending input in the router and returns a command that
// hands it to the worker off the update loop. An empty line is ignored.
func (a *App) submit() tea.Cmd {
	if err := a.router.SetInput(a.input.Value()); err != nil {
		a.err = err
		return nil
	}

	_, err := a.router.StageInput()
	switch {
	case errors.Is(err, state.ErrEmptyInput):
		return nil
	case err != nil:
		a.err = err
	default:
		a.err = nil
	}

	a.input.SetValue(a.router.Input())
	a.follow = true
	a.refresh()
	if err != nil {
		return nil
	}
	return a.dispatch()
}

func (a *App) dispatch() tea.Cmd {
	router := a.router
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		return dispatchedMsg{err: router.DispatchPending(ctx)}
	}
}

func (a *App) refresh() {
	a.actions = a.router.Snapshot()
	a.render()
}

func (a *App) render() {
	a.viewport.SetContent(a.renderActions())
	if a.follow {
		a.viewport.GotoBottom()
	}
}

func (a *App) hasRunning() bool {
	for _, act := range a.actions {
		if act.Status == models.ActionStatusRunning {
			return true
		}
	}
	return false
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	if a.err != nil {
		b.WriteString(statusFailed.Render("Error: "+a.err.Error()) + "\n")
	} else {
		b.WriteString(a.renderFooter() + "\n")
	}
	b.WriteString(inputStyle.Width(max(a.width-2, 0)).Render(a.input.View()))
	return b.String()
}

var (
	commandStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("236"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Background(lipgloss.Color("234"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("240"))
)

func (a *App) renderActions() string {
	if len(a.actions) == 0 {
		return dimStyle.Render("No actions yet. Type a command below.")
	}

	width := a.viewport.Width
	var b strings.Builder
	for i, act := range a.actions {
		if i > 0 {
			b.WriteString("\n")
		}
		header := fmt.Sprintf("%s %s", a.formatStatus(act), act.Command)
		if meta := formatMeta(act); meta != "" {
			header += "  " + dimStyle.Render(meta)
		}
		b.WriteString(commandStyle.Width(width).Render(header))
		for _, line := range act.Output {
			b.WriteString("\n")
			b.WriteString(outputStyle.Width(width).Render(line))
		}
	}
	return b.String()
}

func (a *App) formatStatus(act models.Action) string {
	switch act.Status {
	case models.ActionStatusRunning:
		return statusRunning.Render(a.spinner.View())
	case models.ActionStatusSuccess:
		return statusSuccess.Render("✓")
	case models.ActionStatusFailed:
		return statusFailed.Render("✗")
	default:
		return string(act.Status)
	}
}

func formatMeta(act models.Action) string {
	var parts []string
	if act.ExitCode != nil && *act.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit:%d", *act.ExitCode))
	}
	if act.CompletedAt != nil {
		if d := act.CompletedAt.Sub(act.CreatedAt); d > 0 {
			parts = append(parts, formatDuration(d))
		}
	}
	return strings.Join(parts, "  ")
}

func (a *App) renderFooter() string {
	var running, failed int
	for _, act := range a.actions {
		switch act.Status {
		case models.ActionStatusRunning:
			running++
		case models.ActionStatusFailed:
			failed++
		}
	}
	summary := fmt.Sprintf("%d actions  %d running  %d failed", len(a.actions), running, failed)
	return helpStyle.Render(summary + "  [enter] run  [pgup/pgdn] scroll  [esc] quit")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
