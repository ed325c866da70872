package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/domain"
	"ragchat/internal/session"
	"ragchat/internal/watcher"
)

// ChatPort is the TUI-facing subset of a conversation session.
type ChatPort interface {
	History() []domain.Turn
	Begin(text string) (domain.Turn, error)
	Respond(ctx context.Context) (string, error)
	Finish(reply string, err error) domain.Turn
	Refresh(ctx context.Context) ([]string, error)
	RequestRebuild(ctx context.Context) ([]string, error)
	Sources() []string
	Summary() string
}

// Options configures the chrome around the conversation.
type Options struct {
	Title  string
	Banner string
	// Changes, when set, reports edits to the library directory.
	Changes <-chan []watcher.Change
}

type replyMsg struct {
	reply string
	err   error
}

type sourcesMsg struct {
	files   []string
	err     error
	rebuilt bool
}

type changesMsg []watcher.Change

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx     context.Context
	chat    ChatPort
	opts    Options
	input   textinput.Model
	vp      viewport.Model
	spin    spinner.Model
	md      *glamour.TermRenderer
	sources []string
	summary string
	status  string
	busy    bool
	width   int
	height  int
	ready   bool
}

// New creates the chat model. ctx bounds every background call it starts.
func New(ctx context.Context, chat ChatPort, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		ctx:    ctx,
		chat:   chat,
		opts:   opts,
		input:  ti,
		vp:     viewport.New(0, 0),
		spin:   sp,
		status: "Indexing library...",
		busy:   true,
	}
}

// Init builds (or reuses) the index so the sources list is populated before
// the first question.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.refreshCmd(false), m.waitForChanges())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.md = newRenderer(m.chatWidth() - 4)
		m.resize()
		m.syncHistory()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlR:
			if m.busy {
				m.status = "Still working; rebuild when the current request finishes."
				return m, nil
			}
			m.busy = true
			m.status = "Rebuilding library..."
			return m, tea.Batch(m.refreshCmd(true), m.spin.Tick)
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case replyMsg:
		m.chat.Finish(msg.reply, msg.err)
		m.busy = false
		m.sources = m.chat.Sources()
		m.summary = m.chat.Summary()
		if msg.err != nil {
			m.status = "Request failed; you can ask again or press ctrl+r to rebuild."
		} else {
			m.status = "Ready."
		}
		m.syncHistory()
		return m, nil

	case sourcesMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Library unavailable: " + firstLine(msg.err)
			m.syncHistory()
			return m, nil
		}
		m.sources = msg.files
		m.summary = m.chat.Summary()
		verb := "Indexed"
		if msg.rebuilt {
			verb = "Rebuilt index from"
		}
		m.status = fmt.Sprintf("%s %d files.", verb, len(msg.files))
		m.syncHistory()
		return m, nil

	case changesMsg:
		if !m.busy {
			m.status = describeChanges(msg)
		}
		return m, m.waitForChanges()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if m.busy {
		m.status = "Thinking... please wait for the answer before asking again."
		return m, nil
	}
	if _, err := m.chat.Begin(text); err != nil {
		if !errors.Is(err, session.ErrEmptyInput) {
			m.status = err.Error()
		}
		return m, nil
	}
	m.input.Reset()
	m.busy = true
	m.status = "Thinking..."
	m.syncHistory()
	return m, tea.Batch(m.respondCmd(), m.spin.Tick)
}

func (m Model) respondCmd() tea.Cmd {
	chat, ctx := m.chat, m.ctx
	return func() tea.Msg {
		reply, err := chat.Respond(ctx)
		return replyMsg{reply: reply, err: err}
	}
}

func (m Model) refreshCmd(rebuild bool) tea.Cmd {
	chat, ctx := m.chat, m.ctx
	return func() tea.Msg {
		var files []string
		var err error
		if rebuild {
			files, err = chat.RequestRebuild(ctx)
		} else {
			files, err = chat.Refresh(ctx)
		}
		return sourcesMsg{files: files, err: err, rebuilt: rebuild}
	}
}

func (m Model) waitForChanges() tea.Cmd {
	ch := m.opts.Changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		batch, ok := <-ch
		if !ok {
			return nil
		}
		return changesMsg(batch)
	}
}

func describeChanges(changes []watcher.Change) string {
	if len(changes) == 1 {
		return fmt.Sprintf("Library changed on disk: %s %s. The next question will use it.", changes[0].Path, changes[0].Op)
	}
	return fmt.Sprintf("Library changed on disk: %d files. The next question will use them.", len(changes))
}

func firstLine(err error) string {
	s := err.Error()
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Run starts the full-screen chat and blocks until the user quits.
func Run(ctx context.Context, chat ChatPort, opts Options) error {
	p := tea.NewProgram(New(ctx, chat, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
