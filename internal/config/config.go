package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// CorpusConfig describes the watched document directory.
type CorpusConfig struct {
	Dir           string   `yaml:"dir"`
	Extensions    []string `yaml:"extensions"`
	Exclude       []string `yaml:"exclude,omitempty"`
	IncludeHidden bool     `yaml:"include_hidden"`
	IgnoreFile    string   `yaml:"ignore_file"`
	MaxFileBytes  int64    `yaml:"max_file_bytes"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
// Each build writes to its own collection named Collection-<build id>.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// LLMConfig configures the hosted chat model.
type LLMConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
}

// ChatConfig configures the conversation loop.
type ChatConfig struct {
	Mode        string `yaml:"mode"`
	TopK        int    `yaml:"top_k"`
	Greeting    string `yaml:"greeting"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// CacheConfig configures the index cache.
type CacheConfig struct {
	BuildTimeoutSecs int  `yaml:"build_timeout_secs"`
	Watch            bool `yaml:"watch"`
}

// LogConfig configures the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

// UIConfig holds the static page chrome.
type UIConfig struct {
	Title  string `yaml:"title"`
	Banner string `yaml:"banner"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus      CorpusConfig      `yaml:"corpus"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	LLM         LLMConfig         `yaml:"llm"`
	Chat        ChatConfig        `yaml:"chat"`
	Cache       CacheConfig       `yaml:"cache"`
	Log         LogConfig         `yaml:"log"`
	UI          UIConfig          `yaml:"ui"`
}

const (
	DefaultSystemPrompt = "You are an expert on managing healthcare call centre queries. " +
		"Assume that all questions are related to handling an inbound clinical call. " +
		"Use bullet points where appropriate. " +
		"Keep answers clear, concise and factual; avoid hallucinations; include citations."
	DefaultGreeting = "Ask me a question about DHU policies and procedures."
	DefaultBanner   = "Please note: this is a non-production demonstration environment using a " +
		"limited, anonymised data set from the provided manual. Do not rely on it for decision making."
)

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks settings that must hold before any interactive state is
// created. Failures wrap domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	if c.Corpus.Dir == "" {
		return fmt.Errorf("%w: corpus.dir is empty", domain.ErrConfiguration)
	}
	if _, err := c.LLMAPIKey(); err != nil {
		return err
	}
	switch c.Embedder.Type {
	case "tfidf", "":
	case "openai":
		if c.Embedder.OpenAI == nil {
			return fmt.Errorf("%w: openai embedder config missing", domain.ErrConfiguration)
		}
		if os.Getenv(c.Embedder.OpenAI.APIKeyEnv) == "" {
			return fmt.Errorf("%w: missing embedder API key in env %s", domain.ErrConfiguration, c.Embedder.OpenAI.APIKeyEnv)
		}
	default:
		return fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return fmt.Errorf("%w: qdrant config missing", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown vector store: %s", domain.ErrConfiguration, c.VectorStore.Type)
	}
	switch c.Chat.Mode {
	case "condense_question", "context":
	default:
		return fmt.Errorf("%w: unknown chat mode: %s", domain.ErrConfiguration, c.Chat.Mode)
	}
	return nil
}

// LLMAPIKey returns the language model credential from the environment.
func (c *AppConfig) LLMAPIKey() (string, error) {
	key := os.Getenv(c.LLM.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, c.LLM.APIKeyEnv)
	}
	return key, nil
}

// BuildTimeout is the configured limit for one index build; zero means none.
func (c *AppConfig) BuildTimeout() time.Duration {
	return time.Duration(c.Cache.BuildTimeoutSecs) * time.Second
}

// ChatTimeout is the configured limit for one chat call; zero means none.
func (c *AppConfig) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.TimeoutSecs) * time.Second
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragchat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Corpus: CorpusConfig{
			Dir:        "./data",
			Extensions: []string{".txt", ".md", ".markdown", ".csv", ".json", ".html", ".htm"},
			IgnoreFile: ".ragignore",
		},
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Chunker:     ChunkerConfig{Type: "sentence", SentencesPerChunk: 5, OverlapSentences: 1},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 3},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			APIKeyEnv:    "OPENAI_API_KEY",
			Model:        "gpt-4.1-mini-2025-04-14",
			Temperature:  0.5,
			SystemPrompt: DefaultSystemPrompt,
			TimeoutSecs:  60,
		},
		Chat:  ChatConfig{Mode: "condense_question", TopK: 4, Greeting: DefaultGreeting, TimeoutSecs: 120},
		Cache: CacheConfig{BuildTimeoutSecs: 600, Watch: true},
		Log:   LogConfig{Level: "info", File: "ragchat.log"},
		UI:    UIConfig{Title: "DHU 111 Call Handler Assistant", Banner: DefaultBanner},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Corpus.Dir == "" {
		cfg.Corpus.Dir = "./data"
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Chat.Mode == "" {
		cfg.Chat.Mode = "condense_question"
	}
	if cfg.Chat.TopK <= 0 {
		cfg.Chat.TopK = 4
	}
	if cfg.Chat.Greeting == "" {
		cfg.Chat.Greeting = DefaultGreeting
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4.1-mini-2025-04-14"
	}
	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "ragchat"
	}
}
