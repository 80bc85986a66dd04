// Package chat is a terminal client for one tutoring session.
package chat

import (
	"context"
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/sensei/internal/session"
	"github.com/abhisek/sensei/internal/ui/components"
	"github.com/abhisek/sensei/internal/ui/layout"
	"github.com/abhisek/sensei/internal/ui/theme"
)

// Client is the part of the tutoring service the chat drives.
type Client interface {
	StartSession(ctx context.Context, userID, goalID string, mode session.Mode) (*session.StartResult, error)
	SubmitTurn(ctx context.Context, sessionID, utterance string) (*session.TurnResult, error)
	EndSession(ctx context.Context, sessionID string) (*session.TurnResult, error)
}

// Options describe the session to open.
type Options struct {
	UserID    string
	GoalID    string
	GoalTitle string
	Mode      session.Mode

	// Threshold colors the engagement bar. Zero means 0.5.
	Threshold float64

	// MaxUtteranceRunes caps the input. Zero means no cap.
	MaxUtteranceRunes int
}

type role int

const (
	roleTutor role = iota
	roleLearner
	roleNotice
)

type line struct {
	role role
	text string
}

type startedMsg struct {
	res *session.StartResult
	err error
}

type turnMsg struct {
	res *session.TurnResult
	err error
}

type endedMsg struct {
	res *session.TurnResult
	err error
}

// Model is the bubbletea model for a chat session.
type Model struct {
	ctx    context.Context
	client Client
	opts   Options

	sessionID string
	phase     session.Phase
	ratio     float64
	lines     []line
	input     components.TextInput
	busy      bool
	done      bool
	fatal     error

	width, height int
}

// New creates a Model. The session is opened by Init.
func New(ctx context.Context, client Client, opts Options) Model {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.5
	}
	if opts.GoalTitle == "" {
		opts.GoalTitle = opts.GoalID
	}
	return Model{
		ctx:    ctx,
		client: client,
		opts:   opts,
		input:  components.NewTextInput("Type your answer...", opts.MaxUtteranceRunes),
		busy:   true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.start(), m.input.Init())
}

func (m Model) start() tea.Cmd {
	ctx, client, opts := m.ctx, m.client, m.opts
	return func() tea.Msg {
		res, err := client.StartSession(ctx, opts.UserID, opts.GoalID, opts.Mode)
		return startedMsg{res: res, err: err}
	}
}

func (m Model) submit(text string) tea.Cmd {
	ctx, client, id := m.ctx, m.client, m.sessionID
	return func() tea.Msg {
		res, err := client.SubmitTurn(ctx, id, text)
		return turnMsg{res: res, err: err}
	}
}

func (m Model) end() tea.Cmd {
	ctx, client, id := m.ctx, m.client, m.sessionID
	return func() tea.Msg {
		res, err := client.EndSession(ctx, id)
		return endedMsg{res: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case startedMsg:
		m.busy = false
		if msg.err != nil {
			m.fatal = msg.err
			return m, nil
		}
		m.sessionID = msg.res.SessionID
		m.phase = msg.res.Phase
		m.lines = append(m.lines, line{roleTutor, msg.res.OpeningPrompt})
		m.done = msg.res.Phase == session.PhaseCompleted
		return m, nil

	case turnMsg:
		m.busy = false
		if msg.err != nil {
			m.lines = append(m.lines, line{roleNotice, msg.err.Error()})
			return m, nil
		}
		m.apply(msg.res)
		return m, nil

	case endedMsg:
		m.busy = false
		m.done = true
		if msg.err != nil {
			m.lines = append(m.lines, line{roleNotice, msg.err.Error()})
			return m, nil
		}
		m.apply(msg.res)
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.done || m.fatal != nil || m.sessionID == "" {
				return m, tea.Quit
			}
			if m.busy {
				return m, nil
			}
			m.busy = true
			return m, m.end()
		case "enter":
			if m.done || m.fatal != nil {
				return m, tea.Quit
			}
			text := m.input.Value()
			if m.busy || text == "" {
				return m, nil
			}
			m.lines = append(m.lines, line{roleLearner, text})
			m.input.Reset()
			m.busy = true
			return m, m.submit(text)
		}
	}

	if m.done || m.fatal != nil {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) apply(res *session.TurnResult) {
	m.phase = res.Phase
	m.ratio = res.EngagementRatio
	m.lines = append(m.lines, line{roleTutor, res.ResponseText})
	if res.Retryable {
		m.lines = append(m.lines, line{roleNotice, "That attempt was not counted."})
	}
	if res.Completed {
		m.done = true
	}
}

func (m Model) View() tea.View {
	v := tea.NewView("")
	v.AltScreen = true
	if m.width == 0 || m.height == 0 {
		return v
	}
	v.SetContent(m.render())
	return v
}

func (m Model) render() string {
	if layout.IsTooSmall(m.width, m.height) {
		return layout.RenderMinSizeMessage(m.width, m.height)
	}

	header := layout.RenderHeader(m.opts.GoalTitle, strings.ReplaceAll(string(m.phase), "_", " "), m.width)
	footer := layout.RenderFooter(m.keyHints(), m.width)

	bar := components.EngagementBar{Ratio: m.ratio, Threshold: m.opts.Threshold, Width: m.width - 4}.View()
	var prompt string
	switch {
	case m.fatal != nil:
		prompt = theme.Failure.Render("Could not start the session: " + m.fatal.Error())
	case m.done:
		prompt = theme.Hint.Render("Session complete.")
	case m.busy:
		prompt = theme.Hint.Render("Thinking...")
	default:
		prompt = m.input.View()
	}

	avail := m.height - lipgloss.Height(header) - lipgloss.Height(footer) - 4
	body := "  " + bar + "\n\n" + m.transcript(m.width-4, avail) + "\n\n  " + prompt
	return layout.RenderFrame(header, body, footer, m.width, m.height)
}

// transcript renders the latest lines that fit in height rows.
func (m Model) transcript(width, height int) string {
	wrap := lipgloss.NewStyle().Width(width).PaddingLeft(2)
	var rows []string
	for _, l := range m.lines {
		var name string
		switch l.role {
		case roleTutor:
			name = theme.TutorName.Render("Sensei")
		case roleLearner:
			name = theme.LearnerName.Render("You")
		default:
			rows = append(rows, strings.Split(wrap.Render(theme.Warning.Render(l.text)), "\n")...)
			continue
		}
		rows = append(rows, strings.Split(wrap.Render(name+"  "+theme.Body.Render(l.text)), "\n")...)
		rows = append(rows, "")
	}
	if height > 0 && len(rows) > height {
		rows = rows[len(rows)-height:]
	}
	return strings.Join(rows, "\n")
}

func (m Model) keyHints() []layout.KeyHint {
	if m.done || m.fatal != nil {
		return []layout.KeyHint{{Key: "Enter", Description: "Quit"}}
	}
	return []layout.KeyHint{
		{Key: "Enter", Description: "Send"},
		{Key: "Esc", Description: "End session"},
		{Key: "Ctrl+C", Description: "Quit"},
	}
}

// Run opens the session and blocks until the learner quits.
func Run(ctx context.Context, client Client, opts Options) error {
	p := tea.NewProgram(New(ctx, client, opts), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat: %w", err)
	}
	return nil
}
