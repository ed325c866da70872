package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/indexcache"
)

const greeting = "Ask me a question about DHU policies and procedures."

type fakeIndex struct {
	reply   string
	err     error
	block   bool
	history []domain.Turn
	asked   string
}

func (f *fakeIndex) Chat(ctx context.Context, history []domain.Turn, question string) (string, error) {
	f.history = history
	f.asked = question
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeIndex) Summary() string { return "Chest pain needs an ambulance." }

type harness struct {
	dir    string
	index  *fakeIndex
	cache  *indexcache.Cache
	builds atomic.Int32
	fail   error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir(), index: &fakeIndex{reply: "Follow protocol X."}}
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "triage.md"), []byte("Chest pain: ambulance."), 0o644))
	h.cache = indexcache.New(indexcache.BuilderFunc(func(ctx context.Context, dir string) (domain.Index, []string, error) {
		h.builds.Add(1)
		if h.fail != nil {
			return nil, nil, h.fail
		}
		return h.index, []string{"triage.md"}, nil
	}), indexcache.Options{})
	return h
}

func (h *harness) session(opts Options) *Session {
	if opts.Greeting == "" {
		opts.Greeting = greeting
	}
	return New(h.cache, h.dir, opts)
}

func roles(turns []domain.Turn) []domain.Role {
	out := make([]domain.Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

func TestNewSessionHasOnlyGreeting(t *testing.T) {
	s := newHarness(t).session(Options{})
	assert.Equal(t, []domain.Turn{{Role: domain.RoleAssistant, Content: greeting}}, s.History())
	assert.Equal(t, AwaitingUserInput, s.State())
}

func TestSubmitAppendsUserThenAssistant(t *testing.T) {
	h := newHarness(t)
	s := h.session(Options{})

	turn, err := s.Submit(context.Background(), "What is the triage protocol for chest pain?")
	require.NoError(t, err)
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Content: "Follow protocol X."}, turn)

	hist := s.History()
	require.Len(t, hist, 3)
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles(hist))
	assert.Equal(t, "What is the triage protocol for chest pain?", hist[1].Content)
	assert.Equal(t, "Follow protocol X.", hist[2].Content)

	assert.Equal(t, "What is the triage protocol for chest pain?", h.index.asked)
	assert.Equal(t, hist[:1], h.index.history, "chat sees the turns before the question")
	assert.Equal(t, []string{"triage.md"}, s.Sources())
	assert.Equal(t, "Chest pain needs an ambulance.", s.Summary())
	assert.Equal(t, AwaitingUserInput, s.State())
}

func TestBeginAppendsUserTurnImmediately(t *testing.T) {
	s := newHarness(t).session(Options{})

	_, err := s.Begin("  Where is the policy on breaks?  ")
	require.NoError(t, err)
	hist := s.History()
	require.Len(t, hist, 2)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "Where is the policy on breaks?"}, hist[1])
	assert.Equal(t, ProcessingResponse, s.State())

	_, err = s.Begin("another")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.RequestRebuild(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, s.History(), 2, "no second user turn while processing")

	reply, err := s.Respond(context.Background())
	s.Finish(reply, err)
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles(s.History()))
}

func TestEmptyInputRejected(t *testing.T) {
	s := newHarness(t).session(Options{})
	_, err := s.Submit(context.Background(), "   \n")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Len(t, s.History(), 1)
	assert.Equal(t, AwaitingUserInput, s.State())
}

func TestRespondWithoutQuestion(t *testing.T) {
	s := newHarness(t).session(Options{})
	_, err := s.Respond(context.Background())
	assert.ErrorIs(t, err, ErrIdle)
}

func TestModelFailurePreservesHistory(t *testing.T) {
	h := newHarness(t)
	h.index.err = fmt.Errorf("%w: quota exceeded", domain.ErrModelCall)
	s := h.session(Options{})

	turn, err := s.Submit(context.Background(), "What is the triage protocol for chest pain?")
	assert.ErrorIs(t, err, domain.ErrModelCall)

	hist := s.History()
	require.Len(t, hist, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "What is the triage protocol for chest pain?"}, hist[1])
	assert.Equal(t, domain.RoleAssistant, hist[2].Role)
	assert.Equal(t, turn, hist[2])
	assert.Contains(t, hist[2].Content, "couldn't get an answer")
	assert.Equal(t, AwaitingUserInput, s.State())

	// resubmitting works once the model recovers
	h.index.err = nil
	_, err = s.Submit(context.Background(), "What is the triage protocol for chest pain?")
	require.NoError(t, err)
	assert.Len(t, s.History(), 5)
}

func TestBuildFailureBecomesNotice(t *testing.T) {
	h := newHarness(t)
	h.fail = errors.New("embedding service rejected the key")
	s := h.session(Options{})

	_, err := s.Submit(context.Background(), "hello?")
	assert.ErrorIs(t, err, domain.ErrIndexBuild)
	hist := s.History()
	require.Len(t, hist, 3)
	assert.Contains(t, hist[2].Content, "couldn't build the document library")
	assert.Contains(t, hist[2].Content, "embedding service rejected the key")
}

func TestChatTimeout(t *testing.T) {
	h := newHarness(t)
	h.index.block = true
	s := h.session(Options{ChatTimeout: 20 * time.Millisecond})

	_, err := s.Submit(context.Background(), "slow question")
	assert.ErrorIs(t, err, domain.ErrModelCall)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Contains(t, s.History()[2].Content, "took too long")
	assert.Equal(t, AwaitingUserInput, s.State())
}

func TestRebuildForcesMiss(t *testing.T) {
	h := newHarness(t)
	s := h.session(Options{})

	_, err := s.Submit(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "second")
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.builds.Load(), "unchanged directory reuses the index")

	files, err := s.RequestRebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"triage.md"}, files)
	assert.EqualValues(t, 2, h.builds.Load())
	assert.Len(t, s.History(), 5, "rebuild keeps the conversation")
}

func TestRebuildFailureAddsNotice(t *testing.T) {
	h := newHarness(t)
	s := h.session(Options{})
	h.fail = errors.New("disk on fire")

	_, err := s.RequestRebuild(context.Background())
	assert.ErrorIs(t, err, domain.ErrIndexBuild)
	hist := s.History()
	require.Len(t, hist, 2)
	assert.Equal(t, domain.RoleAssistant, hist[1].Role)
	assert.Equal(t, AwaitingUserInput, s.State())
}

// gatedLibrary holds every GetOrBuild until release is closed.
type gatedLibrary struct {
	Library
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLibrary) GetOrBuild(ctx context.Context, dir string) (*indexcache.Entry, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Library.GetOrBuild(ctx, dir)
}

func TestRebuildRefusesQuestionsUntilDone(t *testing.T) {
	h := newHarness(t)
	h.fail = errors.New("disk on fire")
	lib := &gatedLibrary{Library: h.cache, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(lib, h.dir, Options{Greeting: greeting})

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestRebuild(context.Background())
		done <- err
	}()
	<-lib.entered

	_, err := s.Begin("Where is the parking policy?")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.RequestRebuild(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(lib.release)
	assert.ErrorIs(t, <-done, domain.ErrIndexBuild)
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleAssistant}, roles(s.History()))

	h.fail = nil
	_, err = s.Submit(context.Background(), "Where is the parking policy?")
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles(s.History()))
}

func TestFailureNotice(t *testing.T) {
	assert.Contains(t, FailureNotice(fmt.Errorf("%w: gone", domain.ErrFilesystem)), "couldn't read")
	assert.Contains(t, FailureNotice(context.Canceled), "cancelled")
	assert.Contains(t, FailureNotice(errors.New("boom")), "boom")
}
