package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
)

// ChatMode selects how conversation history reaches retrieval.
type ChatMode string

const (
	// ModeCondenseQuestion rewrites a follow-up into a standalone question
	// before retrieval and answers it without the raw history.
	ModeCondenseQuestion ChatMode = "condense_question"
	// ModeContext retrieves with the question as typed and sends the history
	// along with the retrieved passages.
	ModeContext ChatMode = "context"
)

// ParseChatMode maps a config value onto a ChatMode.
func ParseChatMode(s string) (ChatMode, error) {
	switch ChatMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCondenseQuestion:
		return ModeCondenseQuestion, nil
	case ModeContext:
		return ModeContext, nil
	default:
		return "", fmt.Errorf("unknown chat mode %q", s)
	}
}

const condensePrompt = `Given the conversation below and a follow up question, rephrase the follow up question to be a standalone question. Reply with the standalone question only.

Conversation:
%s
Follow up question: %s`

// Index is one built library: embedded chunks in a vector store, a keyword
// fallback, and the model used to answer. It is read-only after Build and
// safe for concurrent use.
type Index struct {
	buildID      string
	embedder     domain.Embedder
	store        domain.VectorStore
	keywords     *keywordIndex
	model        domain.ChatModel
	systemPrompt string
	mode         ChatMode
	topK         int

	summary string
	files   []string
	chunks  int
	builtAt time.Time
}

// BuildID identifies this build in logs and store names.
func (ix *Index) BuildID() string { return ix.buildID }

// Summary is a short extractive summary of the whole library.
func (ix *Index) Summary() string { return ix.summary }

// Files returns the root-relative paths of the indexed documents.
func (ix *Index) Files() []string { return append([]string(nil), ix.files...) }

// Chunks returns the number of indexed chunks.
func (ix *Index) Chunks() int { return ix.chunks }

// Query retrieves the topK passages most relevant to text. When the vector
// search has nothing to go on, it falls back to keyword search.
func (ix *Index) Query(ctx context.Context, text string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = ix.topK
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if isZero(vec) {
		logger.Debugf("query has no embedding signal, using keyword search")
		return ix.keywords.Search(text, topK)
	}
	res, err := ix.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	if allZero(res) {
		logger.Debugf("vector scores all zero, using keyword search")
		return ix.keywords.Search(text, topK)
	}
	return res, nil
}

// Chat answers question given the prior conversation. history holds the
// turns before question, oldest first; it is not modified.
func (ix *Index) Chat(ctx context.Context, history []domain.Turn, question string) (string, error) {
	standalone := question
	if ix.mode == ModeCondenseQuestion && hasUserTurn(history) {
		rewritten, err := ix.model.Complete(ctx, []domain.Turn{
			{Role: domain.RoleUser, Content: fmt.Sprintf(condensePrompt, transcript(history), question)},
		})
		if err != nil {
			return "", modelError("condensing question", err)
		}
		if r := strings.TrimSpace(rewritten); r != "" {
			standalone = r
		}
		logger.Logger.Debug().Str("question", question).Str("standalone", standalone).Msg("condensed question")
	}

	hits, err := ix.Query(ctx, standalone, ix.topK)
	if err != nil {
		return "", modelError("retrieving context", err)
	}

	messages := []domain.Turn{{Role: domain.RoleSystem, Content: ix.systemPrompt}}
	if ix.mode == ModeContext {
		for _, t := range history {
			if t.Role == domain.RoleSystem {
				continue
			}
			messages = append(messages, t)
		}
	}
	messages = append(messages, domain.Turn{Role: domain.RoleUser, Content: contextPrompt(hits, standalone)})

	answer, err := ix.model.Complete(ctx, messages)
	if err != nil {
		return "", modelError("answering", err)
	}
	return strings.TrimSpace(answer), nil
}

// Close releases the vector store contents and the keyword index.
func (ix *Index) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(ix.store.Clear(ctx), ix.keywords.Close())
}

func contextPrompt(hits []domain.SearchResult, question string) string {
	var b strings.Builder
	b.WriteString("Context information is below.\n---------------------\n")
	if len(hits) == 0 {
		b.WriteString("(no relevant passages found)\n")
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, h.Chunk.Source, strings.TrimSpace(h.Chunk.Text))
	}
	b.WriteString("---------------------\n")
	b.WriteString("Using only the context above, answer the question. Cite the passages you use as [n].\n")
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

func transcript(history []domain.Turn) string {
	var b strings.Builder
	for _, t := range history {
		if t.Role == domain.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

func hasUserTurn(history []domain.Turn) bool {
	for _, t := range history {
		if t.Role == domain.RoleUser {
			return true
		}
	}
	return false
}

func modelError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %s: %w", domain.ErrModelCall, domain.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrModelCall, op, err)
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func allZero(res []domain.SearchResult) bool {
	for _, r := range res {
		if r.Score > 1e-9 {
			return false
		}
	}
	return true
}
