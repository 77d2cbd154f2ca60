package embedding

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

func TestOllamaProvider(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			vec := make([]float32, 8)
			vec[0] = float32(i)
			vec[1] = 0.5
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "test-model", 8)
	assert.Equal(t, 8, p.Dimensions())

	t.Run("embed single", func(t *testing.T) {
		vec, err := p.Embed(context.Background(), "solve for x")
		require.NoError(t, err)
		assert.Len(t, vec.Slice(), 8)
		assert.InDelta(t, 0.5, vec.Slice()[1], 1e-6)
	})

	t.Run("embed batch splits large inputs", func(t *testing.T) {
		requests.Store(0)
		texts := make([]string, ollamaMaxBatch+3)
		for i := range texts {
			texts[i] = "chunk"
		}
		vecs, err := p.EmbedBatch(context.Background(), texts)
		require.NoError(t, err)
		assert.Len(t, vecs, len(texts))
		assert.Equal(t, int32(2), requests.Load())
		// Second request restarts indexing at zero.
		assert.InDelta(t, 0.0, vecs[ollamaMaxBatch].Slice()[0], 1e-6)
	})

	t.Run("embed batch empty", func(t *testing.T) {
		vecs, err := p.EmbedBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, vecs)
	})
}

func TestOllamaProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}},
		{"count mismatch", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{})
		}},
		{"empty embedding", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{}}})
		}},
		{"invalid json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			_, err := NewOllamaProvider(server.URL, "m", 4).Embed(context.Background(), "x")
			assert.Error(t, err)
		})
	}
}

func TestOpenAIProviderOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("sk-test", server.URL+"/v1", "m", 2)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0].Slice())
	assert.Equal(t, []float32{0, 1}, vecs[1].Slice())
}

func TestOpenAIProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAIProvider("sk-bad", server.URL, "m", 2).Embed(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, _ := p.Embed(ctx, "Solve x^2 - 5x + 6 = 0")
	b, _ := p.Embed(ctx, "solve x^2 - 7x + 12 = 0")
	c, _ := p.Embed(ctx, "probability of rolling two sixes")
	empty, _ := p.Embed(ctx, "")

	assert.InDelta(t, 1.0, Cosine(a.Slice(), a.Slice()), 1e-6)
	assert.Greater(t, Cosine(a.Slice(), b.Slice()), Cosine(a.Slice(), c.Slice()))
	assert.InDelta(t, 1.0, Cosine(empty.Slice(), empty.Slice()), 1e-6, "empty text still yields a unit vector")

	again, _ := p.Embed(ctx, "Solve x^2 - 5x + 6 = 0")
	assert.Equal(t, a.Slice(), again.Slice())
}

func TestNew(t *testing.T) {
	p, err := New(Config{Dimensions: 32})
	require.NoError(t, err)
	assert.IsType(t, &HashProvider{}, p)

	p, err = New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimensions())

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "bogus"})
	assert.Error(t, err)
}
