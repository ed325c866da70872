package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragchat/internal/signature"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the files that would be indexed and the directory signature",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

func runSources(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := a.loader.Files(cmd.Context(), cfg.Corpus.Dir)
	if err != nil {
		return err
	}
	sig, err := signature.Compute(cfg.Corpus.Dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, f := range files {
		fmt.Fprintf(out, "- %s\n", f)
	}
	fmt.Fprintf(out, "\n%d of %d files indexable, signature %s\n", len(files), sig.Len(), sig.Digest())
	return nil
}
