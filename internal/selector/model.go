package selector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/collector"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F08080")).Padding(0, 1)
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F08080")).Bold(true)
	checkedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8FBC8F"))
	urlStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	statusStyle  = lipgloss.NewStyle().Padding(1, 1, 0, 1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Padding(1, 1, 0, 1)
)

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Toggle    key.Binding
	ToggleAll key.Binding
	Submit    key.Binding
	Quit      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:    key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
		ToggleAll: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "toggle all")),
		Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "analyze")),
		Quit:      key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type tabsLoadedMsg struct {
	tabs []browser.Tab
	err  error
}

type responseMsg struct {
	resp collector.Response
	err  error
}

// Model is the bubbletea model of the tab picker.
type Model struct {
	ctx        context.Context
	source     TabSource
	sender     Sender
	restricted []string

	tabs    []browser.Tab
	checked map[int]bool
	cursor  int
	width   int

	loading bool
	waiting bool
	sent    int
	status  string

	spinner spinner.Model
	keys    keyMap
}

func New(ctx context.Context, source TabSource, sender Sender, restricted []string) Model {
	return Model{
		ctx:        ctx,
		source:     source,
		sender:     sender,
		restricted: restricted,
		checked:    make(map[int]bool),
		loading:    true,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		keys:       defaultKeys(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadTabs())
}

func (m Model) loadTabs() tea.Cmd {
	source, ctx := m.source, m.ctx
	return func() tea.Msg {
		tabs, err := source.Tabs(ctx)
		return tabsLoadedMsg{tabs: tabs, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tabsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			slog.Error("failed to list tabs", "error", msg.err)
			m.status = fmt.Sprintf("Could not list tabs: %v", msg.err)
			return m, nil
		}
		m.tabs = Eligible(msg.tabs, m.restricted)
		m.cursor = 0
		slog.Debug("tabs listed", "total", len(msg.tabs), "eligible", len(m.tabs))
		return m, nil

	case responseMsg:
		m.waiting = false
		if msg.err != nil {
			slog.Error("collector request failed", "error", msg.err)
		}
		m.status = RenderResponse(msg.resp, msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.tabs)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if len(m.tabs) > 0 {
			id := m.tabs[m.cursor].ID
			m.checked[id] = !m.checked[id]
		}
	case key.Matches(msg, m.keys.ToggleAll):
		all := len(m.Selection()) < len(m.tabs)
		for _, t := range m.tabs {
			m.checked[t.ID] = all
		}
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	}
	return m, nil
}

// submit sends one request for the current selection. An empty selection only
// updates the status line.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.waiting || m.loading {
		return m, nil
	}

	ids := m.Selection()
	if len(ids) == 0 {
		m.status = EmptySelectionMessage
		return m, nil
	}

	m.waiting = true
	m.sent++
	m.status = ""
	slog.Info("sending tab selection", "tab_ids", ids)

	sender, ctx, req := m.sender, m.ctx, NewRequest(ids)
	send := func() tea.Msg {
		resp, err := sender.Send(ctx, req)
		return responseMsg{resp: resp, err: err}
	}
	return m, tea.Batch(send, m.spinner.Tick)
}

// Selection returns the checked tab ids in list order.
func (m Model) Selection() []int {
	var ids []int
	for _, t := range m.tabs {
		if m.checked[t.ID] {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Status is the message line, e.g. the rendered reply.
func (m Model) Status() string {
	return m.status
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select tabs to analyze"))
	b.WriteString("\n\n")

	switch {
	case m.loading:
		fmt.Fprintf(&b, " %s Loading tabs...\n", m.spinner.View())
	case len(m.tabs) == 0 && m.status == "":
		b.WriteString(" No tabs available.\n")
	}

	for i, t := range m.tabs {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if m.checked[t.ID] {
			box = checkedStyle.Render("[x]")
		}
		fmt.Fprintf(&b, "%s%s %s %s\n", cursor, box, m.label(t), urlStyle.Render(urlHost(t.URL)))
	}

	if m.waiting {
		b.WriteString(statusStyle.Render(m.spinner.View() + " Analyzing..."))
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpLine()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) label(t browser.Tab) string {
	label := strings.TrimSpace(t.Title)
	if label == "" {
		label = t.URL
	}
	limit := 60
	if m.width > 30 {
		limit = m.width - 30
	}
	if r := []rune(label); len(r) > limit {
		label = string(r[:limit-1]) + "…"
	}
	return label
}

// urlHost is the host shown next to a tab title, or the raw URL when it has
// none (about:blank, data: URLs).
func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func (m Model) helpLine() string {
	bindings := []key.Binding{m.keys.Up, m.keys.Down, m.keys.Toggle, m.keys.ToggleAll, m.keys.Submit, m.keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
