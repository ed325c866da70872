package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"ragchat/internal/service"
	"ragchat/internal/tui"
)

var askFlags struct {
	rebuild      bool
	retrieveOnly bool
	topK         int
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askFlags.rebuild, "rebuild", false, "discard the cached index and rebuild before answering")
	askCmd.Flags().BoolVar(&askFlags.retrieveOnly, "retrieve-only", false, "print the retrieved passages instead of calling the model")
	askCmd.Flags().IntVarP(&askFlags.topK, "top-k", "k", 0, "passages to retrieve (default chat.top_k)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	question := strings.Join(args, " ")
	sess := a.session()
	if askFlags.rebuild {
		if _, err := sess.RequestRebuild(ctx); err != nil {
			return err
		}
	}

	if askFlags.retrieveOnly {
		entry, err := a.cache.GetOrBuild(ctx, cfg.Corpus.Dir)
		if err != nil {
			return err
		}
		defer entry.Release()
		ix, ok := entry.Index.(*service.Index)
		if !ok {
			return errors.New("index does not support retrieval")
		}
		hits, err := ix.Query(ctx, question, askFlags.topK)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(hits) == 0 {
			fmt.Fprintln(out, "No matching passages.")
		}
		for i, h := range hits {
			fmt.Fprintf(out, "[%d] %s  score=%.3f\n%s\n\n", i+1, h.Chunk.Source, h.Score, tui.HighlightBestSentence(h.Chunk.Text, question))
		}
		return nil
	}

	turn, err := sess.Submit(ctx, question)
	fmt.Fprintln(cmd.OutOrStdout(), renderAnswer(turn.Content))
	if err != nil {
		return err
	}
	if sources := sess.Sources(); len(sources) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Library: %d files in %s\n", len(sources), cfg.Corpus.Dir)
	}
	return nil
}

func renderAnswer(text string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
