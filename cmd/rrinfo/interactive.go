package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/nativehandle/proxy"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	addrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateList modelState = iota
	stateEdit
)

type interactiveModel struct {
	err      error
	backend  *backend
	cfg      *proxy.Config
	editing  *proxy.Proxy
	status   string
	records  []*proxy.Proxy
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

func newInteractiveModel(b *backend, seeds []seedRecord) *interactiveModel {
	m := &interactiveModel{
		backend: b,
		cfg:     &proxy.Config{Tracker: proxy.NewTracker()},
		state:   stateList,
	}
	for _, s := range seeds {
		p, err := newRecord(b.model, m.cfg, s)
		if err != nil {
			m.err = err
			break
		}
		m.records = append(m.records, p)
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m.updateInputs(msg)
	}

	if m.state == stateEdit {
		switch key.String() {
		case "ctrl+c":
			m.releaseAll()
			return m, tea.Quit
		case "tab", "shift+tab":
			m.inputs[m.focusIdx].Blur()
			m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
			m.inputs[m.focusIdx].Focus()
			return m, nil
		case "enter":
			m.commitEdit()
			return m, nil
		case "esc":
			m.state = stateList
			m.editing = nil
			m.inputs = nil
			return m, nil
		}
		return m.updateInputs(msg)
	}

	m.err = nil
	switch key.String() {
	case "ctrl+c", "q":
		m.releaseAll()
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.records)-1 {
			m.selected++
		}

	case "n":
		p, err := proxy.NewWithConfig(m.backend.model, m.cfg)
		if err != nil {
			m.err = err
			break
		}
		m.records = append(m.records, p)
		m.selected = len(m.records) - 1
		m.startEdit(p)

	case "e", "enter":
		if len(m.records) > 0 {
			m.startEdit(m.records[m.selected])
		}

	case "d":
		if len(m.records) == 0 {
			break
		}
		p := m.records[m.selected]
		addr := p.Address()
		if err := p.Release(); err != nil {
			m.err = err
		} else {
			m.status = fmt.Sprintf("released 0x%08x", addr)
		}
		m.records = append(m.records[:m.selected], m.records[m.selected+1:]...)
		if m.selected >= len(m.records) && m.selected > 0 {
			m.selected--
		}
	}

	return m, nil
}

func (m *interactiveModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.state != stateEdit {
		return m, nil
	}
	cmds := make([]tea.Cmd, len(m.inputs))
	for i := range m.inputs {
		m.inputs[i], cmds[i] = m.inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m *interactiveModel) startEdit(p *proxy.Proxy) {
	url, err := p.URL()
	if err != nil {
		m.err = err
		return
	}
	mime, err := p.MimeType()
	if err != nil {
		m.err = err
		return
	}

	m.inputs = make([]textinput.Model, 2)
	for i, f := range []struct{ prompt, value, placeholder string }{
		{"url:       ", url, "https://example.com/image.png"},
		{"mime-type: ", mime, "image/png"},
	} {
		ti := textinput.New()
		ti.Prompt = f.prompt
		ti.Placeholder = f.placeholder
		ti.SetValue(f.value)
		ti.Width = 60
		m.inputs[i] = ti
	}
	m.inputs[0].Focus()
	m.focusIdx = 0
	m.editing = p
	m.state = stateEdit
}

func (m *interactiveModel) commitEdit() {
	p := m.editing
	if err := p.SetURL(m.inputs[0].Value()); err != nil {
		m.err = err
		return
	}
	if err := p.SetMimeType(m.inputs[1].Value()); err != nil {
		m.err = err
		return
	}
	m.status = fmt.Sprintf("updated 0x%08x", p.Address())
	m.err = nil
	m.state = stateList
	m.editing = nil
	m.inputs = nil
}

func (m *interactiveModel) releaseAll() {
	for _, p := range m.records {
		_ = p.Release()
	}
	m.records = nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Remote Resources"))
	b.WriteString(" ")
	b.WriteString(m.backend.stats())
	b.WriteString("\n\n")

	switch m.state {
	case stateList:
		if len(m.records) == 0 {
			b.WriteString("No records. Press n to create one.\n")
		}
		for i, p := range m.records {
			line := m.formatRecord(p)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		m.writeStatus(&b)
		b.WriteString(helpStyle.Render("↑/↓ select • n new • e edit • d release • q quit"))

	case stateEdit:
		b.WriteString(fmt.Sprintf("Editing %s\n\n", addrStyle.Render(fmt.Sprintf("0x%08x", m.editing.Address()))))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		m.writeStatus(&b)
		b.WriteString(helpStyle.Render("tab next field • enter save • esc back"))
	}

	return b.String()
}

func (m *interactiveModel) writeStatus(b *strings.Builder) {
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n\n")
	}
}

func (m *interactiveModel) formatRecord(p *proxy.Proxy) string {
	addr := addrStyle.Render(fmt.Sprintf("0x%08x", p.Address()))
	line, err := describe(p)
	if err != nil {
		return addr + " " + errorStyle.Render(err.Error())
	}
	// describe leads with the address; restyle it.
	_, rest, _ := strings.Cut(line, " ")
	return addr + " " + urlStyle.Render(rest)
}

func runInteractive(b *backend, seeds []seedRecord) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode requires a terminal")
	}

	m := newInteractiveModel(b, seeds)
	if m.err != nil {
		m.releaseAll()
		return m.err
	}

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	m.releaseAll()
	return err
}
