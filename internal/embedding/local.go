package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LocalProvider calls a self-hosted embedding service (a sentence-transformer
// behind a small HTTP shim). It is the cheap first hop of the fallback chain.
type LocalProvider struct {
	url  string
	http *http.Client
}

// NewLocalProvider creates the provider for a local /embed endpoint.
func NewLocalProvider(url string, timeout time.Duration) *LocalProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LocalProvider{
		url:  strings.TrimSuffix(url, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// Embed implements Provider.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local embedding service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	return Normalize(parsed.Embedding)
}
