// Package tui is the interactive question loop over the document index.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dgallion1/docreduce/internal/retriever"
)

// Asker answers one question from the index.
type Asker interface {
	Ask(ctx context.Context, question string) (*retriever.Response, error)
}

// answerMsg carries a finished Ask back into Update.
type answerMsg struct {
	question string
	resp     *retriever.Response
	err      error
}

// Model is the Bubble Tea model for the question loop.
type Model struct {
	ctx        context.Context
	asker      Asker
	input      textinput.Model
	viewport   viewport.Model
	transcript []string
	status     string
	busy       bool
	ready      bool
}

func New(ctx context.Context, asker Asker) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents (exit or quit to leave)"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:      ctx,
		asker:    asker,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input line, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.transcript = append(m.transcript, errorStyle.Render("Error: "+msg.err.Error()))
		} else {
			m.status = fmt.Sprintf("Answered %q", msg.question)
			m.transcript = append(m.transcript, renderAnswer(msg.resp))
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	switch {
	case q == "":
		m.status = "Please enter a question."
		return m, nil
	case IsExit(q):
		return m, tea.Quit
	case m.busy:
		m.status = "Still answering the previous question..."
		return m, nil
	}

	m.input.Reset()
	m.busy = true
	m.status = "Thinking..."
	m.transcript = append(m.transcript, questionStyle.Render("You: ")+q)
	m.refresh()
	return m, m.ask(q)
}

func (m Model) ask(q string) tea.Cmd {
	ctx, asker := m.ctx, m.asker
	return func() tea.Msg {
		resp, err := asker.Ask(ctx, q)
		return answerMsg{question: q, resp: resp, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.transcript, "\n\n"))
	m.viewport.GotoBottom()
}

// Transcript returns the rendered exchanges so far.
func (m Model) Transcript() []string { return m.transcript }

// Status returns the status line text.
func (m Model) Status() string { return m.status }

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docreduce")
	status := statusStyle.Render(m.status)
	return header + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" + inputStyle.Render(m.input.View()) + "\n" + status
}

// IsExit reports whether the input ends the session.
func IsExit(q string) bool {
	switch strings.ToLower(strings.TrimSpace(q)) {
	case "exit", "quit":
		return true
	}
	return false
}

func renderAnswer(resp *retriever.Response) string {
	var sb strings.Builder
	sb.WriteString(answerStyle.Render("Assistant: "))
	sb.WriteString(resp.Answer)
	if resp.Warning != "" {
		sb.WriteString("\n")
		sb.WriteString(errorStyle.Render("Warning: " + resp.Warning))
	}
	if len(resp.Sources) > 0 {
		refs := make([]string, len(resp.Sources))
		for i, s := range resp.Sources {
			refs[i] = fmt.Sprintf("%s p%d #%d", s.FileName, s.PageNumber, s.ChunkNumber)
		}
		sb.WriteString("\n")
		sb.WriteString(sourceStyle.Render("Sources: " + strings.Join(refs, ", ")))
	}
	return sb.String()
}

var (
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
