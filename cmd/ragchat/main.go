package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/logger"
)

type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Chat with a folder of documents",
	Long: `ragchat indexes a local folder of documents and answers questions about them
with a hosted language model, citing the passages it used.

The index is rebuilt only when files under the folder are added, removed or
modified. Press ctrl+r in the chat (or pass --rebuild to ask) to force a rebuild.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to YAML config (default ./config.yaml, then ~/.config/ragchat/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flags.dataDir, "data-dir", "d", "", "document folder to index (overrides corpus.dir)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
	rootCmd.AddCommand(askCmd, sourcesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, domain.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig reads .env and the YAML config, applies flag overrides and
// validates. Configuration errors stop the program before any session exists.
func loadConfig() (*config.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("reading .env: %v", err)
	}

	var cfg *config.AppConfig
	var err error
	if flags.configPath == "" {
		var path string
		cfg, path, err = config.LoadDefault()
		if err == nil {
			logger.Debugf("using config %s", path)
		}
	} else {
		cfg, err = config.Load(flags.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	if flags.dataDir != "" {
		cfg.Corpus.Dir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
