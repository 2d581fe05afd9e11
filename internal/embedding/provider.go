// Package embedding turns text into vectors via an external model server.
// The rest of the system never computes embeddings itself; everything that
// needs a vector goes through a Provider.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned when the provider's circuit breaker is open
// and requests are being rejected to let the upstream recover.
var ErrUnavailable = errors.New("embedding: provider unavailable")

// Provider generates embeddings for text.
type Provider interface {
	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model reports the model name the provider embeds with.
	Model() string
}

// Config holds HTTP provider configuration.
type Config struct {
	// BaseURL is the base URL of the model server (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Timeout is the per-request timeout (default: 5s).
	Timeout time.Duration
}

// HTTPProvider talks to an Ollama-style /api/embed endpoint. All calls go
// through a circuit breaker so a dead model server fails fast instead of
// stalling every worker on timeouts.
type HTTPProvider struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates an HTTP provider, applying defaults for any unset
// config values.
func NewHTTPProvider(config Config) *HTTPProvider {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &HTTPProvider{
		baseURL: config.BaseURL,
		model:   config.Model,
		timeout: config.Timeout,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embedding-provider",
			MaxRequests: 2,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Model returns the configured model name.
func (p *HTTPProvider) Model() string {
	return p.model
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// The embeddings field is a 2D array; one input yields one row.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests an embedding for one text through the circuit breaker.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding: text is required")
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (p *HTTPProvider) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	jsonData, err := json.Marshal(embedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: server returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("embedding: failed to decode response: %w", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding: server returned empty embedding vector")
	}
	return respData.Embeddings[0], nil
}
