// Package llm talks to an Ollama server for text generation and embeddings.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "llama3:8b"
	DefaultEmbedModel = "nomic-embed-text"
	DefaultDimensions = 768
	DefaultTimeout    = 120 * time.Second
)

// Config holds connection settings for the Ollama client.
type Config struct {
	BaseURL    string
	Model      string // Generation model.
	EmbedModel string // Embedding model.
	Dimensions int    // Expected embedding width; 0 disables the check.
	Timeout    time.Duration

	// RequestsPerSecond throttles outbound calls; 0 means unlimited.
	RequestsPerSecond float64
}

// Client calls the Ollama generate and embeddings endpoints.
type Client struct {
	baseURL    string
	model      string
	embedModel string
	dimensions int
	httpClient *http.Client
	limiter    *rate.Limiter

	Stats *LLMStats
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		Stats:      NewLLMStats(time.Hour),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Generate runs a single non-streaming completion and returns the trimmed text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	if err := c.post(ctx, OpGenerate, "/api/generate", generateRequest{
		Model:  c.model,
		Prompt: prompt,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Response), nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.post(ctx, OpEmbed, "/api/embeddings", embedRequest{
		Model:  c.embedModel,
		Prompt: text,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama embed: %s", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding from %s", c.embedModel)
	}
	if c.dimensions > 0 && len(resp.Embedding) != c.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(resp.Embedding), c.dimensions)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	c.Stats.Record(op, time.Since(start).Milliseconds())
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama %s status %d: %s", op, resp.StatusCode, truncate(string(respBody), 200))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Model returns the generation model name.
func (c *Client) Model() string { return c.model }

// EmbedModel returns the embedding model name.
func (c *Client) EmbedModel() string { return c.embedModel }

// Dimensions returns the configured embedding width.
func (c *Client) Dimensions() int { return c.dimensions }

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
