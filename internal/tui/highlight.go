package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/textutil"
)

var highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

// HighlightBestSentence renders text with the sentence sharing the most
// words with query emphasised. Ties go to the earliest sentence.
func HighlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	best := BestSentence(sentences, query)
	out := make([]string, len(sentences))
	for i, s := range sentences {
		s = strings.TrimSpace(s)
		if i == best {
			s = highlightStyle.Render(s)
		}
		out[i] = s
	}
	return strings.Join(out, " ")
}

// BestSentence returns the index of the sentence with the largest word
// overlap with query, or -1 when query has no terms.
func BestSentence(sentences []string, query string) int {
	q := textutil.TermSet(query)
	if len(q) == 0 {
		return -1
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		score := 0
		for tok := range textutil.TermSet(s) {
			if _, ok := q[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
