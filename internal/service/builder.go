// Package service builds queryable indexes from a corpus directory and
// answers questions against them.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
)

// DocumentLoader reads a directory into documents ordered by relative path.
type DocumentLoader interface {
	Load(ctx context.Context, root string) ([]domain.Document, error)
}

// batchEmbedder is implemented by embedders that can embed many texts in
// one round trip.
type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// BuilderConfig wires the pipeline stages. Embedders and stores are created
// per build because a TF-IDF vocabulary and a store's contents belong to a
// single corpus snapshot.
type BuilderConfig struct {
	Loader              DocumentLoader
	Chunker             domain.Chunker
	NewEmbedder         func() (domain.Embedder, error)
	NewStore            func(buildID string) (domain.VectorStore, error)
	Summarizer          domain.Summarizer
	SummaryMaxSentences int
	Model               domain.ChatModel
	SystemPrompt        string
	Mode                ChatMode
	TopK                int
}

// Builder turns a directory into an *Index.
type Builder struct {
	cfg BuilderConfig
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	switch {
	case cfg.Loader == nil:
		return nil, errors.New("builder needs a document loader")
	case cfg.Chunker == nil:
		return nil, errors.New("builder needs a chunker")
	case cfg.NewEmbedder == nil:
		return nil, errors.New("builder needs an embedder factory")
	case cfg.NewStore == nil:
		return nil, errors.New("builder needs a vector store factory")
	case cfg.Model == nil:
		return nil, errors.New("builder needs a chat model")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCondenseQuestion
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	return &Builder{cfg: cfg}, nil
}

// Build loads, chunks, embeds and stores every document under dir. The
// returned file list is the root-relative paths of the documents indexed.
func (b *Builder) Build(ctx context.Context, dir string) (domain.Index, []string, error) {
	ix, err := b.BuildIndex(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	return ix, ix.Files(), nil
}

// BuildIndex is Build with the concrete result type.
func (b *Builder) BuildIndex(ctx context.Context, dir string) (*Index, error) {
	started := time.Now()
	buildID := uuid.NewString()
	log := logger.Logger.With().Str("build", buildID).Str("dir", dir).Logger()

	docs, err := b.cfg.Loader.Load(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	var chunks []domain.Chunk
	var texts []string
	var all strings.Builder
	files := make([]string, 0, len(docs))
	for _, d := range docs {
		cs, err := b.cfg.Chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("chunking %s: %w", d.RelPath, err)
		}
		for _, c := range cs {
			chunks = append(chunks, c)
			texts = append(texts, c.Text)
		}
		files = append(files, d.RelPath)
		all.WriteString(d.Content)
		all.WriteString("\n")
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no indexable text in %d documents", len(docs))
	}
	log.Debug().Int("documents", len(docs)).Int("chunks", len(chunks)).Msg("chunked corpus")

	embedder, err := b.cfg.NewEmbedder()
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if err := embedder.Prepare(texts); err != nil {
		return nil, fmt.Errorf("preparing %s embedder: %w", embedder.Name(), err)
	}
	vectors, err := embedAll(ctx, embedder, texts)
	if err != nil {
		return nil, err
	}

	store, err := b.cfg.NewStore(buildID)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	if err := fill(ctx, store, embedder.Dimension(), chunks, vectors); err != nil {
		discard(store)
		return nil, err
	}

	keywords, err := newKeywordIndex(chunks)
	if err != nil {
		discard(store)
		return nil, err
	}

	var summary string
	if b.cfg.Summarizer != nil {
		summary, err = b.cfg.Summarizer.Summarize(all.String(), b.cfg.SummaryMaxSentences)
		if err != nil {
			log.Warn().Err(err).Msg("summarizing library")
		}
	}

	log.Info().
		Int("documents", len(docs)).
		Int("chunks", len(chunks)).
		Str("embedder", embedder.Name()).
		Dur("elapsed", time.Since(started)).
		Msg("index ready")

	return &Index{
		buildID:      buildID,
		embedder:     embedder,
		store:        store,
		keywords:     keywords,
		model:        b.cfg.Model,
		systemPrompt: b.cfg.SystemPrompt,
		mode:         b.cfg.Mode,
		topK:         b.cfg.TopK,
		summary:      summary,
		files:        files,
		chunks:       len(chunks),
		builtAt:      time.Now(),
	}, nil
}

func embedAll(ctx context.Context, embedder domain.Embedder, texts []string) ([][]float64, error) {
	if be, ok := embedder.(batchEmbedder); ok {
		vectors, err := be.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding chunks: %w", err)
		}
		return vectors, nil
	}
	vectors := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embedder.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func fill(ctx context.Context, store domain.VectorStore, dim int, chunks []domain.Chunk, vectors [][]float64) error {
	if err := store.Init(ctx, dim); err != nil {
		return fmt.Errorf("initialising vector store: %w", err)
	}
	if err := store.Upsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("storing vectors: %w", err)
	}
	return nil
}

// discard drops a half-built store.
func discard(store domain.VectorStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Clear(ctx); err != nil {
		logger.Warnf("discarding vector store: %v", err)
	}
}
