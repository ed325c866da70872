package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/indexcache"
	"ragchat/internal/llm"
	"ragchat/internal/loader"
	"ragchat/internal/logger"
	"ragchat/internal/service"
	"ragchat/internal/session"
	"ragchat/internal/summarizer"
	"ragchat/internal/tui"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
	"ragchat/internal/watcher"
)

// app is the assembled program: one loader and one index cache over the
// configured corpus directory.
type app struct {
	cfg     *config.AppConfig
	loader  *loader.Loader
	builder *service.Builder
	cache   *indexcache.Cache
	logFile io.Closer
}

// setupLogging sends logs to the configured file while the TUI owns the
// terminal, and to stderr otherwise.
func setupLogging(cfg *config.AppConfig, toFile bool) (io.Closer, error) {
	level := logger.ParseLevel(cfg.Log.Level)
	if toFile && cfg.Log.File != "" {
		f, err := logger.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		logger.Configure(level, false, f)
		return f, nil
	}
	logger.Configure(level, cfg.Log.Pretty, os.Stderr)
	return nil, nil
}

func newApp(cfg *config.AppConfig, logToFile bool) (*app, error) {
	closer, err := setupLogging(cfg, logToFile)
	if err != nil {
		return nil, err
	}
	l, err := loader.New(loader.Options{
		Extensions:    cfg.Corpus.Extensions,
		Exclude:       cfg.Corpus.Exclude,
		IncludeHidden: cfg.Corpus.IncludeHidden,
		IgnoreFile:    cfg.Corpus.IgnoreFile,
		MaxFileBytes:  cfg.Corpus.MaxFileBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	b, err := newBuilder(cfg, l)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		loader:  l,
		builder: b,
		cache:   indexcache.New(b, indexcache.Options{BuildTimeout: cfg.BuildTimeout()}),
		logFile: closer,
	}, nil
}

func (a *app) Close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func (a *app) session() *session.Session {
	return session.New(a.cache, a.cfg.Corpus.Dir, session.Options{
		Greeting:    a.cfg.Chat.Greeting,
		ChatTimeout: a.cfg.ChatTimeout(),
	})
}

func newBuilder(cfg *config.AppConfig, l *loader.Loader) (*service.Builder, error) {
	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "sentence", "":
		ch = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	default:
		return nil, fmt.Errorf("%w: unknown chunker: %s", domain.ErrConfiguration, cfg.Chunker.Type)
	}

	var sum domain.Summarizer
	switch cfg.Summarizer.Type {
	case "frequency", "":
		sum = summarizer.NewFrequencySummarizer()
	case "none":
	default:
		return nil, fmt.Errorf("%w: unknown summarizer: %s", domain.ErrConfiguration, cfg.Summarizer.Type)
	}

	key, err := cfg.LLMAPIKey()
	if err != nil {
		return nil, err
	}
	model, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      key,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	mode, err := service.ParseChatMode(cfg.Chat.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	return service.NewBuilder(service.BuilderConfig{
		Loader:              l,
		Chunker:             ch,
		NewEmbedder:         embedderFactory(cfg),
		NewStore:            storeFactory(cfg),
		Summarizer:          sum,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		Model:               model,
		SystemPrompt:        cfg.LLM.SystemPrompt,
		Mode:                mode,
		TopK:                cfg.Chat.TopK,
	})
}

func embedderFactory(cfg *config.AppConfig) func() (domain.Embedder, error) {
	if cfg.Embedder.Type != "openai" {
		return func() (domain.Embedder, error) { return tfidf.NewEmbedder(), nil }
	}
	oc := *cfg.Embedder.OpenAI
	return func() (domain.Embedder, error) {
		return openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKey:     os.Getenv(oc.APIKeyEnv),
			Model:      oc.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize:  oc.BatchSize,
			MaxRetries: 3,
		})
	}
}

func storeFactory(cfg *config.AppConfig) func(buildID string) (domain.VectorStore, error) {
	if cfg.VectorStore.Type != "qdrant" {
		return func(string) (domain.VectorStore, error) { return memory.NewStorage(), nil }
	}
	qc := *cfg.VectorStore.Qdrant
	return func(buildID string) (domain.VectorStore, error) {
		return qdrant.NewStorage(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: collectionName(qc.Collection, buildID),
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
		}), nil
	}
}

// collectionName scopes a Qdrant collection to one build.
func collectionName(base, buildID string) string {
	id := strings.ReplaceAll(buildID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return base + "_" + id
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	opts := tui.Options{Title: cfg.UI.Title, Banner: cfg.UI.Banner}
	if cfg.Cache.Watch {
		w, err := watcher.New(cfg.Corpus.Dir, cfg.Corpus.IncludeHidden, 0)
		if err != nil {
			logger.Warnf("not watching %s: %v", cfg.Corpus.Dir, err)
		} else {
			defer w.Close()
			go w.Run(ctx)
			opts.Changes = w.Changes()
		}
	}
	logger.Logger.Info().Str("dir", cfg.Corpus.Dir).Str("model", cfg.LLM.Model).Msg("starting chat")
	return tui.Run(ctx, a.session(), opts)
}
