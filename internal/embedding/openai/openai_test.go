package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if n <= failFirst {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		// answer in reverse order to exercise index placement
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, item{Index: i, Embedding: []float64{float64(len(req.Input[i])), 1, 0}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestEmbedSetsDimension(t *testing.T) {
	srv, _ := embeddingServer(t, 0)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	v, err := c.Embed(context.Background(), "abcd")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 1, 0}, v)
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv, calls := embeddingServer(t, 0)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", BatchSize: 2})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 1.0, vecs[0][0])
	assert.Equal(t, 2.0, vecs[1][0])
	assert.Equal(t, 3.0, vecs[2][0])
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedRetriesRateLimit(t *testing.T) {
	srv, calls := embeddingServer(t, 1)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", MaxRetries: 2})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedGivesUpAfterRetries(t *testing.T) {
	srv, _ := embeddingServer(t, 10)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", MaxRetries: 0})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
