package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// TAClient fetches externally computed technical indicators. Implements the
// optional RSIProvider capability for instruments where the feed's RSI is
// preferred over the local computation.
type TAClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   RetryConfig
}

// NewTAClient creates a technical-analysis API client.
func NewTAClient(baseURL, apiKey string, timeout time.Duration) *TAClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TAClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig(),
	}
}

type rsiResponse struct {
	TechnicalAnalysis map[string]struct {
		RSI string `json:"RSI"`
	} `json:"Technical Analysis: RSI"`
}

// GetRSI returns the most recent daily RSI(14) value for a symbol.
func (c *TAClient) GetRSI(ctx context.Context, ticker string) (float64, error) {
	q := url.Values{}
	q.Set("function", "RSI")
	q.Set("symbol", ticker)
	q.Set("interval", "daily")
	q.Set("time_period", "14")
	q.Set("series_type", "close")
	q.Set("apikey", c.apiKey)
	endpoint := fmt.Sprintf("%s/query?%s", c.baseURL, q.Encode())

	var parsed rsiResponse
	err := WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch RSI for %s: %w", ticker, err)
	}
	if len(parsed.TechnicalAnalysis) == 0 {
		return 0, fmt.Errorf("no RSI data for %s", ticker)
	}

	dates := make([]string, 0, len(parsed.TechnicalAnalysis))
	for d := range parsed.TechnicalAnalysis {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	latest := parsed.TechnicalAnalysis[dates[len(dates)-1]]

	var rsi float64
	if _, err := fmt.Sscanf(latest.RSI, "%f", &rsi); err != nil {
		return 0, fmt.Errorf("malformed RSI value %q for %s", latest.RSI, ticker)
	}
	if rsi < 0 || rsi > 100 {
		return 0, fmt.Errorf("RSI %f out of range for %s", rsi, ticker)
	}
	return rsi, nil
}
