package service

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"ragchat/internal/domain"
)

// keywordIndex is the full-text fallback used when the embedding gives no
// signal for a query, e.g. a TF-IDF vector with only unseen words.
type keywordIndex struct {
	index  bleve.Index
	chunks map[string]domain.Chunk
}

type keywordDocument struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func keywordMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = false
	text.IncludeInAll = true
	doc.AddFieldMappingsAt("text", text)

	source := bleve.NewKeywordFieldMapping()
	source.Store = true
	source.IncludeInAll = false
	doc.AddFieldMappingsAt("source", source)

	m.DefaultMapping = doc
	return m
}

func newKeywordIndex(chunks []domain.Chunk) (*keywordIndex, error) {
	idx, err := bleve.NewMemOnly(keywordMapping())
	if err != nil {
		return nil, fmt.Errorf("creating keyword index: %w", err)
	}
	k := &keywordIndex{index: idx, chunks: make(map[string]domain.Chunk, len(chunks))}

	batch := idx.NewBatch()
	for _, ch := range chunks {
		k.chunks[ch.ChunkID] = ch
		if err := batch.Index(ch.ChunkID, keywordDocument{Text: ch.Text, Source: ch.Source}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("indexing chunk %s: %w", ch.ChunkID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("writing keyword index: %w", err)
	}
	return k, nil
}

// Search returns up to topK chunks matching any word of text. Blank queries
// match nothing.
func (k *keywordIndex) Search(text string, topK int) ([]domain.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(text))
	req.Size = topK
	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]domain.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ch, ok := k.chunks[hit.ID]
		if !ok {
			continue
		}
		out = append(out, domain.SearchResult{Chunk: ch, Score: hit.Score})
	}
	return out, nil
}

func (k *keywordIndex) Close() error {
	return k.index.Close()
}
