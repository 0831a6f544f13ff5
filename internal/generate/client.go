// Package generate implements the C7 Generator against a local
// completion endpoint shaped like Ollama's /api/generate.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragserve/ragserve/internal/rag"
	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

// Client calls a local generator backend over HTTP, per spec.md
// §6.4: {model, prompt, stream: false, options: {temperature,
// num_predict}} -> {response, eval_count}.
type Client struct {
	host   string
	model  string
	client *http.Client
}

// New constructs a Client against host, targeting model.
func New(host, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
	Error     string `json:"error"`
}

// Generate implements rag.Generator.
func (c *Client) Generate(ctx context.Context, prompt string, params rag.GenerateParams) (rag.GenerateResult, error) {
	payload := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return rag.GenerateResult{}, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "marshal generate request", err).
			WithComponent("generate").WithOperation("generate")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return rag.GenerateResult{}, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "build generate request", err).
			WithComponent("generate").WithOperation("generate")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return rag.GenerateResult{}, ragerrors.Wrap(ragerrors.ErrorTypeBackendUnavailable, "generator backend unreachable", err).
			WithComponent("generate").WithOperation("generate").
			WithDetails(map[string]string{"backend": "generator"})
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return rag.GenerateResult{}, ragerrors.New(ragerrors.ErrorTypeModelMissing,
			fmt.Sprintf("model %q is not loaded on the generator backend", c.model)).
			WithComponent("generate").WithOperation("generate").
			WithDetails(map[string]string{"backend": "generator", "model": c.model})
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return rag.GenerateResult{}, ragerrors.Wrap(ragerrors.ErrorTypeBackendUnavailable,
			fmt.Sprintf("generator backend status %d: %s", resp.StatusCode, string(data)), nil).
			WithComponent("generate").WithOperation("generate").
			WithDetails(map[string]string{"backend": "generator"})
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return rag.GenerateResult{}, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "decode generate response", err).
			WithComponent("generate").WithOperation("generate")
	}
	if parsed.Error != "" {
		return rag.GenerateResult{}, ragerrors.New(ragerrors.ErrorTypeModelMissing, parsed.Error).
			WithComponent("generate").WithOperation("generate").
			WithDetails(map[string]string{"backend": "generator", "model": c.model})
	}

	return rag.GenerateResult{Text: parsed.Response, TokensGenerated: parsed.EvalCount}, nil
}

// ModelID reports the configured model name.
func (c *Client) ModelID() string {
	return c.model
}

// Healthy reports whether the generator backend is reachable, used
// by /api/rag/health (spec.md §6.1).
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
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
