package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestSentenceChunkerOverlap(t *testing.T) {
	c := NewSentenceChunker(3, 1)
	doc := domain.Document{ID: "doc", RelPath: "manual.txt", Content: "One. Two. Three. Four. Five. Six. Seven."}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "One. Two. Three.", chunks[0].Text)
	assert.Equal(t, "Three. Four. Five.", chunks[1].Text)
	assert.Equal(t, "Five. Six. Seven.", chunks[2].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "manual.txt", ch.Source)
		assert.Equal(t, "doc", ch.DocumentID)
	}
	assert.Equal(t, "doc:2", chunks[2].ChunkID)
}

func TestSentenceChunkerLineBreaksEndSentences(t *testing.T) {
	c := NewSentenceChunker(1, 0)
	chunks, err := c.Chunk(domain.Document{ID: "d", Content: "# Chest pain\n- call 999\nAssess breathing."})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "# Chest pain", chunks[0].Text)
	assert.Equal(t, "- call 999", chunks[1].Text)
	assert.Equal(t, "Assess breathing.", chunks[2].Text)
}

func TestSentenceChunkerEdgeCases(t *testing.T) {
	c := NewSentenceChunker(0, 10)

	chunks, err := c.Chunk(domain.Document{ID: "d", Content: "   "})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(domain.Document{ID: "d", Content: "no terminator here"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "no terminator here", chunks[0].Text)
}
