package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/session"
	"ragchat/internal/watcher"
)

type fakeChat struct {
	history  []domain.Turn
	busy     bool
	rebuilds int
	sources  []string
}

func (f *fakeChat) History() []domain.Turn { return append([]domain.Turn(nil), f.history...) }

func (f *fakeChat) Begin(text string) (domain.Turn, error) {
	if text == "" {
		return domain.Turn{}, session.ErrEmptyInput
	}
	if f.busy {
		return domain.Turn{}, session.ErrBusy
	}
	f.busy = true
	t := domain.Turn{Role: domain.RoleUser, Content: text}
	f.history = append(f.history, t)
	return t, nil
}

func (f *fakeChat) Respond(context.Context) (string, error) { return "Follow protocol X.", nil }

func (f *fakeChat) Finish(reply string, err error) domain.Turn {
	if err != nil {
		reply = session.FailureNotice(err)
	}
	t := domain.Turn{Role: domain.RoleAssistant, Content: reply}
	f.history = append(f.history, t)
	f.busy = false
	return t
}

func (f *fakeChat) Refresh(context.Context) ([]string, error) { return f.sources, nil }

func (f *fakeChat) RequestRebuild(context.Context) ([]string, error) {
	f.rebuilds++
	return f.sources, nil
}

func (f *fakeChat) Sources() []string { return f.sources }
func (f *fakeChat) Summary() string   { return "" }

func newTestModel(chat *fakeChat) Model {
	m := New(context.Background(), chat, Options{Title: "DHU 111 Call Handler Assistant", Banner: "NOT FOR PRODUCTION USE"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	next, _ = m.Update(sourcesMsg{files: []string{"triage.md"}})
	return next.(Model)
}

func press(t *testing.T, m Model, key tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(Model), cmd
}

func TestSubmitRunsOneExchange(t *testing.T) {
	chat := &fakeChat{history: []domain.Turn{{Role: domain.RoleAssistant, Content: "Ask me a question about DHU policies and procedures."}}}
	m := newTestModel(chat)
	assert.False(t, m.busy)
	assert.Equal(t, []string{"triage.md"}, m.sources)

	m.input.SetValue("What is the triage protocol for chest pain?")
	m, cmd := press(t, m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Equal(t, "", m.input.Value())
	require.Len(t, chat.history, 2)

	// a second enter while thinking is refused
	m.input.SetValue("another")
	m, _ = press(t, m, tea.KeyEnter)
	assert.Len(t, chat.history, 2)
	assert.Contains(t, m.status, "wait")

	next, _ := m.Update(replyMsg{reply: "Follow protocol X."})
	m = next.(Model)
	assert.False(t, m.busy)
	require.Len(t, chat.history, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Content: "Follow protocol X."}, chat.history[2])
	assert.Contains(t, m.View(), "DHU 111 Call Handler Assistant")
}

func TestReplyFailureKeepsSessionUsable(t *testing.T) {
	chat := &fakeChat{}
	m := newTestModel(chat)
	m.input.SetValue("hello")
	m, _ = press(t, m, tea.KeyEnter)

	next, _ := m.Update(replyMsg{err: fmt.Errorf("%w: quota", domain.ErrModelCall)})
	m = next.(Model)
	assert.False(t, m.busy)
	assert.Contains(t, m.status, "failed")
	require.Len(t, chat.history, 2)
	assert.Equal(t, domain.RoleAssistant, chat.history[1].Role)
}

func TestEmptyEnterIgnored(t *testing.T) {
	chat := &fakeChat{}
	m := newTestModel(chat)
	m, cmd := press(t, m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
	assert.Empty(t, chat.history)
}

func TestRebuildKey(t *testing.T) {
	chat := &fakeChat{sources: []string{"a.md", "b.md"}}
	m := newTestModel(chat)

	m, cmd := press(t, m, tea.KeyCtrlR)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	// refused while busy
	_, again := press(t, m, tea.KeyCtrlR)
	assert.Nil(t, again)

	msg := m.refreshCmd(true)()
	next, _ := m.Update(msg)
	m = next.(Model)
	assert.Equal(t, 1, chat.rebuilds)
	assert.False(t, m.busy)
	assert.Equal(t, []string{"a.md", "b.md"}, m.sources)
	assert.Contains(t, m.status, "Rebuilt")
}

func TestSourcesFailureShown(t *testing.T) {
	m := newTestModel(&fakeChat{})
	next, _ := m.Update(sourcesMsg{err: errors.New("index build failed: no documents found\ndetails")})
	m = next.(Model)
	assert.Equal(t, "Library unavailable: index build failed: no documents found", m.status)
}

func TestChangesNotice(t *testing.T) {
	ch := make(chan []watcher.Change, 1)
	m := New(context.Background(), &fakeChat{}, Options{Changes: ch})
	m.busy = false

	next, cmd := m.Update(changesMsg{{Path: "triage.md", Op: watcher.OpWrite}})
	m = next.(Model)
	assert.Equal(t, "Library changed on disk: triage.md modified. The next question will use it.", m.status)
	assert.NotNil(t, cmd, "keeps listening")
}

func TestQuitKeys(t *testing.T) {
	m := newTestModel(&fakeChat{})
	_, cmd := press(t, m, tea.KeyCtrlC)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
