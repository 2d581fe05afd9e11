package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello world", req.Input)

		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(Config{BaseURL: server.URL})
	vec, err := provider.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "nomic-embed-text", provider.Model())
}

func TestHTTPProvider_EmptyText(t *testing.T) {
	provider := NewHTTPProvider(Config{BaseURL: "http://localhost:1"})
	_, err := provider.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestHTTPProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewHTTPProvider(Config{BaseURL: server.URL})
	_, err := provider.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPProvider_EmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer server.Close()

	provider := NewHTTPProvider(Config{BaseURL: server.URL})
	_, err := provider.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty embedding")
}

func TestHTTPProvider_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewHTTPProvider(Config{BaseURL: server.URL})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := provider.Embed(ctx, "hello")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}

	// Fourth call: the breaker short-circuits without touching the server.
	_, err := provider.Embed(ctx, "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}
