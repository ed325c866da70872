package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedRequiresPrepare(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), "chest pain")
	assert.Error(t, err)
}

func TestPrepareRejectsEmptyCorpus(t *testing.T) {
	assert.Error(t, NewEmbedder().Prepare(nil))
	assert.Error(t, NewEmbedder().Prepare([]string{"the and of"}))
}

func TestEmbedNormalizesAndRanks(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{
		"Chest pain requires an ambulance dispatch.",
		"Dental pain can wait for a routine appointment.",
		"Stroke symptoms: face, arms, speech, time.",
	}))
	assert.Greater(t, e.Dimension(), 5)

	q, err := e.Embed(context.Background(), "chest pain")
	require.NoError(t, err)
	chest, err := e.Embed(context.Background(), "Chest pain requires an ambulance dispatch.")
	require.NoError(t, err)
	stroke, err := e.Embed(context.Background(), "Stroke symptoms: face, arms, speech, time.")
	require.NoError(t, err)

	norm := 0.0
	for _, v := range chest {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
	assert.Greater(t, dot(q, chest), dot(q, stroke))
}

func TestEmbedUnknownWordsGiveZeroVector(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"ambulance dispatch"}))

	v, err := e.Embed(context.Background(), "zzz qqq")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
