// Package llm defines the text-generation collaborator consumed by workflow
// stages and an HTTP client for the generation service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// TextGenerator produces text for a prompt. Implementations may fail with
// *GenerationError on timeout or backend unavailability.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// GenerationError wraps a failed generation call.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
}

// HTTPGenerator calls a generation service over HTTP.
type HTTPGenerator struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPGenerator builds a client for the given base URL. An empty base
// falls back to LLM_SERVICE_URL or the default in-cluster address.
func NewHTTPGenerator(base string, timeout time.Duration, logger *zap.Logger) *HTTPGenerator {
	if base == "" {
		base = os.Getenv("LLM_SERVICE_URL")
	}
	if base == "" {
		base = "http://llm-service:8000"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGenerator{
		base:   base,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Generate posts the prompt to the service and returns the generated text.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, MaxTokens: maxTokens, Temperature: temperature})
	if err != nil {
		return "", &GenerationError{Cause: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &GenerationError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &GenerationError{Cause: fmt.Errorf("generation service returned status %d", resp.StatusCode)}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &GenerationError{Cause: fmt.Errorf("decode response: %w", err)}
	}
	if out.Text == "" {
		return "", &GenerationError{Cause: fmt.Errorf("generation service returned empty text")}
	}

	g.logger.Debug("generation completed",
		zap.Int("prompt_len", len(prompt)),
		zap.Int("tokens_used", out.TokensUsed),
		zap.String("model", out.Model),
	)
	return out.Text, nil
}
