package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/domain"
)

const sidebarWidth = 32

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	bannerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1)
	summaryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	chatBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sideBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render("You")
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")).Render("Assistant")
)

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.opts.Title))
	b.WriteString("\n")
	if m.opts.Banner != "" {
		b.WriteString(bannerStyle.Render(m.opts.Banner))
		b.WriteString("\n")
	}

	body := chatBoxStyle.Render(m.vp.View())
	if m.showSidebar() {
		side := sideBoxStyle.Width(sidebarWidth - 2).Height(m.vp.Height).Render(m.renderSidebar())
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, side)
	}
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")

	status := m.status
	if m.busy {
		status = m.spin.View() + " " + status
	}
	b.WriteString(statusStyle.Render(status))
	b.WriteString(summaryStyle.Render("  ctrl+r rebuild · ctrl+c quit"))
	return b.String()
}

func (m Model) showSidebar() bool { return m.width >= 80 }

func (m Model) chatWidth() int {
	w := m.width
	if m.showSidebar() {
		w -= sidebarWidth
	}
	return max(20, w)
}

func (m *Model) resize() {
	_, ch := chatBoxStyle.GetFrameSize()
	_, ih := inputBoxStyle.GetFrameSize()
	header := 1
	if m.opts.Banner != "" {
		header++
	}
	reserved := header + ih + 1 + 1 // input line, status
	cw, _ := chatBoxStyle.GetFrameSize()
	m.vp.Width = max(10, m.chatWidth()-cw)
	m.vp.Height = max(3, m.height-reserved-ch)
}

// syncHistory re-renders the conversation and scrolls to the newest turn.
func (m *Model) syncHistory() {
	turns := m.chat.History()
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, m.renderTurn(t))
	}
	m.vp.SetContent(strings.Join(parts, "\n\n"))
	m.vp.GotoBottom()
}

func (m Model) renderTurn(t domain.Turn) string {
	switch t.Role {
	case domain.RoleUser:
		return userLabel + "\n" + t.Content
	default:
		return assistantLabel + "\n" + m.renderMarkdown(t.Content)
	}
}

func (m Model) renderMarkdown(text string) string {
	if m.md == nil {
		return text
	}
	out, err := m.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sources"))
	b.WriteString("\n")
	if len(m.sources) == 0 {
		b.WriteString(summaryStyle.Render("(none yet)"))
	}
	for _, s := range m.sources {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if m.summary != "" {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Summary"))
		b.WriteString("\n")
		b.WriteString(summaryStyle.Render(m.summary))
	}
	return b.String()
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(20, width)),
	)
	if err != nil {
		return nil
	}
	return r
}
