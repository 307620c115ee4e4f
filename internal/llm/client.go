// Package llm provides the OpenAI-compatible chat gateway client used for
// sentiment enrichment, news synthesis and analyst guidance.
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

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// Provider generates completions. Strict JSON output is expected for
// enrichment prompts; ExtractJSON tolerates fenced responses.
type Provider interface {
	Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (*Result, error)
	Model() string
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// ClientConfig contains configuration for the LLM client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewClient creates an LLM client with a circuit breaker tuned for slow
// AI-gateway recovery.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	return &Client{
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  &http.Client{Timeout: config.Timeout},
		breaker:     breaker,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends one system+user prompt pair and returns the completion.
// maxTokens <= 0 and temperature < 0 fall back to the client defaults.
func (c *Client) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (*Result, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if temperature < 0 {
		temperature = c.temperature
	}

	request := ChatRequest{
		Model:       c.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	raw, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, requestBody)
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.model, "error").Inc()
		return nil, err
	}
	chatResp := raw.(*ChatResponse)

	if len(chatResp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(c.model, "error").Inc()
		return nil, fmt.Errorf("LLM returned no choices")
	}
	metrics.LLMRequests.WithLabelValues(c.model, "ok").Inc()

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("LLM request completed")

	return &Result{
		Text:  chatResp.Choices[0].Message.Content,
		Model: chatResp.Model,
		Usage: chatResp.Usage,
	}, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*ChatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("LLM API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("LLM API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// ExtractJSON returns the JSON object embedded in a completion, stripping
// markdown code fences and any prose around the outermost braces.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.Index(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return text[start : end+1], nil
}
