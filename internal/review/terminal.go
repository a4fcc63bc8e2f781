package review

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	contentStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// TerminalReviewer asks a human through a full-screen terminal UI, one
// program run per proposal.
type TerminalReviewer struct {
	title string
	in    io.Reader
	out   io.Writer
}

type TerminalOption func(*TerminalReviewer)

func WithIO(in io.Reader, out io.Writer) TerminalOption {
	return func(t *TerminalReviewer) {
		t.in = in
		t.out = out
	}
}

func NewTerminalReviewer(platformName string, opts ...TerminalOption) *TerminalReviewer {
	t := &TerminalReviewer{title: "Proposed " + platformName + " post"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TerminalReviewer) Review(ctx context.Context, p Proposal) (Decision, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if t.in != nil {
		opts = append(opts, tea.WithInput(t.in))
	}
	if t.out != nil {
		opts = append(opts, tea.WithOutput(t.out))
	}

	final, err := tea.NewProgram(newReviewModel(t.title, p), opts...).Run()
	if err != nil {
		return Decision{}, fmt.Errorf("review ui: %w", err)
	}
	m, ok := final.(reviewModel)
	if !ok {
		return Decision{Action: Cancel}, nil
	}
	return m.decision, nil
}

type mode int

const (
	modeChoose mode = iota
	modeEdit
)

type reviewModel struct {
	title    string
	proposal Proposal
	mode     mode
	editor   textarea.Model
	decision Decision
}

func newReviewModel(title string, p Proposal) reviewModel {
	editor := textarea.New()
	editor.Prompt = ""
	editor.Placeholder = "Edit your post..."
	editor.CharLimit = 0
	editor.SetHeight(10)
	editor.SetWidth(96)

	return reviewModel{
		title:    title,
		proposal: p,
		editor:   editor,
		decision: Decision{Action: Cancel},
	}
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		if typed.Width > 24 {
			m.editor.SetWidth(typed.Width - 4)
		}
		return m, nil
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			m.decision = Decision{Action: Cancel}
			return m, tea.Quit
		}
	}

	if m.mode == modeEdit {
		return m.updateEdit(msg)
	}
	return m.updateChoose(msg)
}

func (m reviewModel) updateChoose(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "1", "a", "enter":
		m.decision = Decision{Action: Approve}
		return m, tea.Quit
	case "!":
		m.decision = Decision{Action: Approve, AcceptOverLimit: true}
		return m, tea.Quit
	case "2", "e":
		m.mode = modeEdit
		m.editor.SetValue(m.proposal.Content)
		return m, m.editor.Focus()
	case "3", "c", "q", "esc":
		m.decision = Decision{Action: Cancel}
		return m, tea.Quit
	}
	return m, nil
}

func (m reviewModel) updateEdit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+s", "ctrl+d":
			m.decision = Decision{Action: Edit, Content: m.editor.Value()}
			return m, tea.Quit
		case "esc":
			m.mode = modeChoose
			m.editor.Blur()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func (m reviewModel) View() string {
	p := m.proposal
	count := fmt.Sprintf("Character count: %d/%d", p.Length, p.Budget)
	if p.OverLimit() > 0 {
		count = errStyle.Render(count)
	} else {
		count = okStyle.Render(count)
	}

	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s (round %d)", m.title, p.Round)),
		"",
	}
	if p.Warning != "" {
		lines = append(lines, warnStyle.Render(p.Warning), "")
	}

	if m.mode == modeEdit {
		n := len([]rune(m.editor.Value()))
		lines = append(lines,
			m.editor.View(),
			mutedStyle.Render(fmt.Sprintf("%d/%d  ctrl+s save  esc back", n, p.Budget)),
		)
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines,
		contentStyle.Render(p.Content),
		count,
		"",
		mutedStyle.Render("1/a approve  2/e edit  3/c cancel  ! approve over limit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
