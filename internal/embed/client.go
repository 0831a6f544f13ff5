// Package embed implements the C3 Embedder against a local,
// Ollama-compatible embeddings endpoint, fronted by an LRU cache.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	ragerrors "github.com/ragserve/ragserve/pkg/errors"
	"github.com/ragserve/ragserve/pkg/utils"
)

// Client calls a local embeddings server one text at a time, the
// shape spec.md §6.4 requires (list-in, list-out of equal length).
type Client struct {
	host   string
	model  string
	dim    int
	client *http.Client

	cache      *lru.Cache[string, []float32]
	maxRetries int
}

// Config carries the HTTP and caching knobs for Client.
type Config struct {
	Host       string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int
}

// New constructs a Client. A zero CacheSize disables caching.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	c := &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		model:      cfg.Model,
		dim:        cfg.Dimension,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("embed: construct cache: %w", err)
		}
		c.cache = cache
	}

	return c, nil
}

// Dim reports the fixed embedding dimension of the collection.
func (c *Client) Dim() int {
	return c.dim
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements rag.Embedder. Each text is embedded independently
// against the backend's /api/embeddings endpoint and the returned vector
// is scaled to unit L2 length; cache hits short circuit the call entirely.
func (c *Client) Embed(ctx context.Context, batch []string) ([][]float32, error) {
	out := make([][]float32, len(batch))

	for i, text := range batch {
		if c.cache != nil {
			if v, ok := c.cache.Get(text); ok {
				out[i] = v
				continue
			}
		}

		vec, err := c.embedWithRetry(ctx, text)
		if err != nil {
			return nil, err
		}
		if c.dim > 0 && len(vec) != c.dim {
			return nil, ragerrors.New(ragerrors.ErrorTypeDimensionMismatch,
				fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", c.dim, len(vec))).
				WithComponent("embed").WithOperation("embed")
		}

		if c.cache != nil {
			c.cache.Add(text, vec)
		}
		out[i] = vec
	}

	return out, nil
}

func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := utils.BackoffDelay(attempt, 100*time.Millisecond, 5*time.Second)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vec, err := c.doEmbed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		slog.Warn("embed_attempt_failed", "attempt", attempt+1, "error", err)
	}

	return nil, ragerrors.Wrap(ragerrors.ErrorTypeBackendUnavailable,
		"embedding backend unreachable", lastErr).
		WithComponent("embed").WithOperation("embed").
		WithDetails(map[string]string{"backend": "embedder"})
}

func (c *Client) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings API status %d: %s", resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}

	var sumSquares float64
	for _, v := range parsed.Embedding {
		sumSquares += v * v
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		norm = 1
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

// Healthy reports whether the embeddings backend answers at all,
// used by /api/rag/health (spec.md §6.1).
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embeddings",
		bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
