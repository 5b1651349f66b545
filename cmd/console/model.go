package main

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
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryReport
	entryNotice
	entryError
)

type entry struct {
	kind entryKind
	text string
	resp *askResponse
}

type answerMsg struct{ resp askResponse }

type resetMsg struct{ res resetResult }

type reportMsg struct{ session, content string }

type errMsg struct{ err error }

// Model is the console's bubbletea state.
type Model struct {
	backend  Backend
	imageURL func(string) string
	timeout  time.Duration

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	session string
	entries []entry
	busy    bool
	ready   bool
	status  string
}

// NewModel builds the console for backend. imageURL turns an evidence URL
// from the server into something the user can open; nil leaves it as is.
func NewModel(backend Backend, imageURL func(string) string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the situation, /report <text>, /reset or /quit"
	ti.CharLimit = 2000
	ti.Focus()
	if imageURL == nil {
		imageURL = func(s string) string { return s }
	}
	return Model{
		backend:  backend,
		imageURL: imageURL,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		status:   "new session",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := boxStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-fh-4)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.Reset()
			return m.submit(line)
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case answerMsg:
		m.busy = false
		m.session = msg.resp.SessionID
		resp := msg.resp
		m.push(entry{kind: entryAssistant, text: resp.Answer, resp: &resp})
		m.status = "session " + m.session
		if len(resp.Degraded) > 0 {
			m.status += fmt.Sprintf(" (degraded: %v)", resp.Degraded)
		}
		return m, nil

	case resetMsg:
		m.busy = false
		note := fmt.Sprintf("conversation reset: %d turns removed, %d field reports kept", msg.res.Removed, msg.res.Kept)
		if msg.res.MemoryCleared != nil && !*msg.res.MemoryCleared {
			note += " (episodic memory not cleared)"
		}
		m.push(entry{kind: entryNotice, text: note})
		return m, nil

	case reportMsg:
		m.busy = false
		if msg.session != "" {
			m.session = msg.session
			m.status = "session " + m.session
		}
		m.push(entry{kind: entryReport, text: msg.content})
		return m, nil

	case errMsg:
		m.busy = false
		m.push(entry{kind: entryError, text: describe(msg.err)})
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit dispatches a line typed by the user.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	switch {
	case line == "/quit":
		return m, tea.Quit
	case line == "/reset":
		if m.session == "" {
			m.push(entry{kind: entryNotice, text: "nothing to reset yet"})
			return m, nil
		}
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.resetCmd(m.session))
	case line == "/report" || strings.HasPrefix(line, "/report "):
		content := strings.TrimSpace(strings.TrimPrefix(line, "/report"))
		if content == "" {
			m.push(entry{kind: entryNotice, text: "usage: /report <text>"})
			return m, nil
		}
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.reportCmd(reportRequest{SessionID: m.session, Content: content}))
	case strings.HasPrefix(line, "/"):
		m.push(entry{kind: entryNotice, text: "unknown command " + strings.Fields(line)[0]})
		return m, nil
	}
	m.push(entry{kind: entryUser, text: line})
	m.busy = true
	return m, tea.Batch(m.spinner.Tick, m.askCmd(askRequest{SessionID: m.session, Question: line}))
}

func (m Model) ctx() (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m Model) askCmd(req askRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		resp, err := m.backend.Ask(ctx, req)
		if err != nil {
			return errMsg{err}
		}
		return answerMsg{resp}
	}
}

func (m Model) resetCmd(session string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		res, err := m.backend.Reset(ctx, session)
		if err != nil {
			return errMsg{err}
		}
		return resetMsg{res}
	}
}

func (m Model) reportCmd(req reportRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		session, err := m.backend.Report(ctx, req)
		if err != nil {
			return errMsg{err}
		}
		return reportMsg{session: session, content: req.Content}
	}
}

func (m *Model) push(e entry) {
	m.entries = append(m.entries, e)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	status := m.status
	if m.busy {
		status = m.spinner.View() + " waiting for the assistant"
	}
	return titleStyle.Render("Crisis Response Assistant") + "\n" +
		boxStyle.Render(m.viewport.View()) + "\n" +
		m.input.View() + "\n" +
		statusStyle.Render(status)
}

// transcript renders the conversation and evidence as plain styled text.
func (m Model) transcript() string {
	if len(m.entries) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.kind {
		case entryUser:
			b.WriteString(userStyle.Render("You: ") + e.text + "\n")
		case entryReport:
			b.WriteString(reportStyle.Render("Field report: ") + e.text + "\n")
		case entryNotice:
			b.WriteString(dimStyle.Render(e.text) + "\n")
		case entryError:
			b.WriteString(errorStyle.Render("Error: "+e.text) + "\n")
		case entryAssistant:
			b.WriteString(assistantStyle.Render("Assistant: ") + e.text + "\n")
			if e.resp != nil {
				b.WriteString(m.evidence(*e.resp))
			}
		}
	}
	return b.String()
}

func (m Model) evidence(r askResponse) string {
	if len(r.TextEvidence) == 0 && len(r.ImageEvidence) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render("Evidence:") + "\n")
	for _, t := range r.TextEvidence {
		loc := ""
		if t.Location != "" {
			loc = " @ " + t.Location
		}
		fmt.Fprintf(&b, "  [text %.2f] %s%s\n", t.Score, t.Text, loc)
	}
	for _, img := range r.ImageEvidence {
		switch {
		case r.ImageSuppressed || img.URL == "":
			fmt.Fprintf(&b, "  [image %.2f] %s (display suppressed)\n", img.Score, img.Caption)
		default:
			fmt.Fprintf(&b, "  [image %.2f] %s %s\n", img.Score, img.Caption, m.imageURL(img.URL))
		}
	}
	return b.String()
}

// describe shortens backend errors for display.
func describe(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 503:
			return "no evidence could be retrieved right now, try again shortly"
		case 502:
			return "the language model did not answer, try again"
		default:
			return apiErr.Message
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	reportStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)
