package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/kobyzev-yuri/lse/internal/config"
)

// ChartClient fetches daily bars and off-hours quotes from a chart-API
// compatible feed. A circuit breaker trips after repeated failures so a dead
// feed fails fast instead of stalling every scheduler tick.
type ChartClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  zerolog.Logger
}

// NewChartClient creates a chart-API client. timeout <= 0 defaults to 30s.
func NewChartClient(baseURL string, timeout time.Duration) *ChartClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "quote-feed",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return &ChartClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		retry:   DefaultRetryConfig(),
		logger:  config.NewLogger("quote-feed"),
	}
}

// Name implements QuoteProvider.
func (c *ChartClient) Name() string { return "chart" }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetBars fetches daily bars in [from, to]. Rows with a missing close are
// skipped; no partial bar is ever returned.
func (c *ChartClient) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", from.Unix()))
	q.Set("period2", fmt.Sprintf("%d", to.Add(24*time.Hour).Unix()))
	q.Set("interval", "1d")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), q.Encode())

	var parsed chartResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", ticker, err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("feed error for %s: %s", ticker, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("empty chart result for %s", ticker)
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	var bars []Bar
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		var volume int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}
		day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		bars = append(bars, Bar{Date: day, Close: *quote.Close[i], Volume: volume})
	}

	c.logger.Debug().Str("ticker", ticker).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

type snapshotResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string  `json:"symbol"`
			PreMarketPrice             float64 `json:"preMarketPrice"`
			PreMarketTime              int64   `json:"preMarketTime"`
			PostMarketPrice            float64 `json:"postMarketPrice"`
			RegularMarketPrice         float64 `json:"regularMarketPrice"`
			RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

// GetPremarket fetches the off-hours snapshot for one symbol. When the feed
// carries no pre-market print the regular price stands in for "last".
func (c *ChartClient) GetPremarket(ctx context.Context, ticker string) (*PremarketQuote, error) {
	endpoint := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", c.baseURL, url.QueryEscape(ticker))

	var parsed snapshotResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return nil, fmt.Errorf("failed to fetch premarket quote for %s: %w", ticker, err)
	}
	if len(parsed.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote for %s", ticker)
	}

	r := parsed.QuoteResponse.Result[0]
	pq := &PremarketQuote{
		Last:      r.PreMarketPrice,
		PrevClose: r.RegularMarketPreviousClose,
		TS:        time.Unix(r.PreMarketTime, 0).UTC(),
	}
	if pq.Last == 0 {
		pq.Last = r.RegularMarketPrice
		pq.TS = time.Now().UTC()
	}
	if pq.PrevClose == 0 {
		return nil, fmt.Errorf("no previous close for %s", ticker)
	}
	return pq, nil
}

func (c *ChartClient) getJSON(ctx context.Context, endpoint string, out any) error {
	return WithRetry(ctx, c.retry, func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", "lse-trader/1.0")

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
			}
			return nil, json.NewDecoder(resp.Body).Decode(out)
		})
		return err
	})
}
