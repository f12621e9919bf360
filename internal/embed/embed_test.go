package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	a, err := e.Embed(context.Background(), "persist account record")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "persist account record")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
}

func TestStaticEmbedderUnitLength(t *testing.T) {
	e := NewStaticEmbedder()
	vec, err := e.Embed(context.Background(), "func saveUser(u User) error")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestStaticEmbedderSharedVocabularyIsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	save, _ := e.Embed(ctx, "func saveUser(u User) error")
	persist, _ := e.Embed(ctx, "persist the User record")
	parse, _ := e.Embed(ctx, "tokenize whitespace runs quickly")

	assert.Greater(t, cosine(save, persist), cosine(save, parse))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestStaticEmbedderBatchOrder(t *testing.T) {
	e := NewStaticEmbedder()
	texts := []string{"alpha beta", "gamma delta", "alpha beta"}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestCachedEmbedderSkipsRepeatCalls(t *testing.T) {
	inner := &countingEmbedder{inner: NewStaticEmbedder()}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())

	_, err = cached.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), inner.calls.Load(), "only the miss is embedded")
}

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                      { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                    { return "counting" }
func (c *countingEmbedder) Available(ctx context.Context) bool   { return true }
func (c *countingEmbedder) Close() error                         { return nil }

func TestOllamaEmbedderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 0, 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", 4)
	vecs, err := e.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[0])
}

func TestOllamaEmbedderServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", 4)
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeEmbedderUnavailable, loupeerr.CodeOf(err))
	assert.True(t, loupeerr.IsRetryable(err))
}

func TestOllamaEmbedderDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", 4)
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInternal, loupeerr.CodeOf(err))
}

func TestOllamaEmbedderUnreachable(t *testing.T) {
	e := NewOllamaEmbedder("http://127.0.0.1:1", "m", 4)
	assert.False(t, e.Available(context.Background()))

	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, loupeerr.IsRetryable(err))
}

func TestNormalizeVectorZero(t *testing.T) {
	v := []float32{0, 0, 0}
	assert.Equal(t, v, NormalizeVector(v))
}

func TestTokenizeSplitsIdentifiers(t *testing.T) {
	toks := tokenize("parseHTTPRequest snake_case value123")
	assert.Contains(t, toks, "parse")
	assert.Contains(t, toks, "snake")
	assert.Contains(t, toks, "case")
	assert.Contains(t, toks, "value")
	assert.Contains(t, toks, "123")
}

func TestStaticBatchTooLarge(t *testing.T) {
	e := NewStaticEmbedder()
	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	_, err := e.EmbedBatch(context.Background(), texts)
	assert.Error(t, err)
}
