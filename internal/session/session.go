// Package session holds one interactive conversation against a library
// directory: its ordered turn history, the turn-taking state, and the
// explicit rebuild control.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/indexcache"
	"ragchat/internal/logger"
)

var (
	// ErrEmptyInput is returned for blank user text. Nothing is appended.
	ErrEmptyInput = errors.New("empty input")
	// ErrBusy is returned when input or a rebuild arrives while a reply is
	// still being produced or a rebuild is running.
	ErrBusy = errors.New("still answering the previous question")
	// ErrIdle is returned by Respond when no question is pending.
	ErrIdle = errors.New("no question pending")
)

// State is the turn-taking state of a session.
type State int

const (
	AwaitingUserInput State = iota
	ProcessingResponse
)

func (s State) String() string {
	switch s {
	case AwaitingUserInput:
		return "awaiting_user_input"
	case ProcessingResponse:
		return "processing_response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Library resolves a directory to its current index.
type Library interface {
	GetOrBuild(ctx context.Context, dir string) (*indexcache.Entry, error)
	Invalidate(dir string)
}

// Options configures a Session.
type Options struct {
	Greeting string
	// ChatTimeout bounds a single chat call. Zero means no limit.
	ChatTimeout time.Duration
}

// Session is safe for concurrent use; Begin and Finish bracket each
// question so a UI can run Respond off its event loop.
type Session struct {
	library Library
	dir     string
	opts    Options

	mu         sync.Mutex
	history    []domain.Turn
	state      State
	rebuilding bool
	pending    string
	sources    []string
	summary    string
}

// New starts a session whose history holds only the greeting.
func New(library Library, dir string, opts Options) *Session {
	greeting := opts.Greeting
	if strings.TrimSpace(greeting) == "" {
		greeting = "Ask me a question about the documents in this library."
	}
	return &Session{
		library: library,
		dir:     dir,
		opts:    opts,
		history: []domain.Turn{{Role: domain.RoleAssistant, Content: greeting}},
		state:   AwaitingUserInput,
	}
}

// Dir is the library directory this session answers from.
func (s *Session) Dir() string { return s.dir }

// History returns a copy of the turns so far, oldest first.
func (s *Session) History() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.history...)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sources returns the files behind the most recent successful build.
func (s *Session) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sources...)
}

// Summary returns the library summary of the most recent successful build,
// if the index provides one.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Begin accepts user text: it appends the user turn and moves to
// ProcessingResponse.
func (s *Session) Begin(text string) (domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Turn{}, ErrEmptyInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingUserInput || s.rebuilding {
		return domain.Turn{}, ErrBusy
	}
	turn := domain.Turn{Role: domain.RoleUser, Content: text}
	s.history = append(s.history, turn)
	s.pending = text
	s.state = ProcessingResponse
	return turn, nil
}

// Respond produces the reply to the pending question. It does not touch the
// history; pass its result to Finish.
func (s *Session) Respond(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != ProcessingResponse {
		s.mu.Unlock()
		return "", ErrIdle
	}
	question := s.pending
	prior := append([]domain.Turn(nil), s.history[:len(s.history)-1]...)
	s.mu.Unlock()

	entry, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	defer entry.Release()

	chatCtx := ctx
	if s.opts.ChatTimeout > 0 {
		var cancel context.CancelFunc
		chatCtx, cancel = context.WithTimeout(ctx, s.opts.ChatTimeout)
		defer cancel()
	}
	started := time.Now()
	reply, err := entry.Index.Chat(chatCtx, prior, question)
	if err != nil {
		return "", chatError(err)
	}
	logger.Logger.Info().Str("dir", entry.Dir).Dur("elapsed", time.Since(started)).Msg("answered question")
	return reply, nil
}

// Finish appends exactly one assistant turn, the reply or a failure notice,
// and returns to AwaitingUserInput.
func (s *Session) Finish(reply string, err error) domain.Turn {
	content := reply
	if err != nil {
		logger.Logger.Error().Err(err).Str("dir", s.dir).Msg("chat failed")
		content = FailureNotice(err)
	}
	turn := domain.Turn{Role: domain.RoleAssistant, Content: content}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	s.pending = ""
	s.state = AwaitingUserInput
	return turn
}

// Submit runs one full exchange. The returned error is informational; the
// failure notice has already been appended to the history.
func (s *Session) Submit(ctx context.Context, text string) (domain.Turn, error) {
	if _, err := s.Begin(text); err != nil {
		return domain.Turn{}, err
	}
	reply, err := s.Respond(ctx)
	return s.Finish(reply, err), err
}

// Refresh resolves the library's current index, building it if the
// directory changed, and records its sources.
func (s *Session) Refresh(ctx context.Context) ([]string, error) {
	entry, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	defer entry.Release()
	return entry.Sources(), nil
}

// RequestRebuild discards the cached index and builds a fresh one. History is
// kept. A failed rebuild adds an assistant notice so the user sees why.
// Questions are refused with ErrBusy until the rebuild ends.
func (s *Session) RequestRebuild(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.state != AwaitingUserInput || s.rebuilding {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.rebuilding = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.rebuilding = false
		s.mu.Unlock()
	}()

	logger.Logger.Info().Str("dir", s.dir).Msg("rebuild requested")
	s.library.Invalidate(s.dir)
	files, err := s.Refresh(ctx)
	if err != nil {
		s.mu.Lock()
		s.history = append(s.history, domain.Turn{Role: domain.RoleAssistant, Content: FailureNotice(err)})
		s.mu.Unlock()
		return nil, err
	}
	return files, nil
}

// refresh returns a borrowed entry; the caller releases it.
func (s *Session) refresh(ctx context.Context) (*indexcache.Entry, error) {
	entry, err := s.library.GetOrBuild(ctx, s.dir)
	if err != nil {
		return nil, err
	}
	var summary string
	if sm, ok := entry.Index.(interface{ Summary() string }); ok {
		summary = sm.Summary()
	}
	s.mu.Lock()
	s.sources = entry.Sources()
	s.summary = summary
	s.mu.Unlock()
	return entry, nil
}

func chatError(err error) error {
	timedOut := errors.Is(err, context.DeadlineExceeded)
	switch {
	case timedOut && !errors.Is(err, domain.ErrTimeout):
		return fmt.Errorf("%w: %w: %w", domain.ErrModelCall, domain.ErrTimeout, err)
	case errors.Is(err, domain.ErrModelCall):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrModelCall, err)
	}
}

// FailureNotice turns an error from Respond or RequestRebuild into the text
// shown to the user in place of an answer.
func FailureNotice(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "Sorry, that took too long to answer. Please try asking again."
	case errors.Is(err, domain.ErrFilesystem):
		return fmt.Sprintf("I couldn't read the document library: %v", err)
	case errors.Is(err, domain.ErrIndexBuild):
		return fmt.Sprintf("I couldn't build the document library, so I can't answer yet. Check the files and press ctrl+r to rebuild.\n\n(%v)", err)
	case errors.Is(err, domain.ErrModelCall):
		return "Sorry, I couldn't get an answer from the language model. Your question is still above; please try again."
	case errors.Is(err, context.Canceled):
		return "The question was cancelled."
	default:
		return fmt.Sprintf("Sorry, something went wrong: %v", err)
	}
}
