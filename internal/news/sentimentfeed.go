package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kobyzev-yuri/lse/internal/db"
)

// SentimentFeedFetcher pulls a news feed whose items already carry a
// sentiment score, so those rows skip the LLM enrichment pass entirely.
type SentimentFeedFetcher struct {
	baseURL string
	apiKey  string
	tickers []string
	http    *http.Client
}

// NewSentimentFeedFetcher creates the fetcher.
func NewSentimentFeedFetcher(baseURL, apiKey string, tickers []string, timeout time.Duration) *SentimentFeedFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SentimentFeedFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		tickers: tickers,
		http:    &http.Client{Timeout: timeout},
	}
}

// Name implements Fetcher.
func (f *SentimentFeedFetcher) Name() string { return "sentiment_feed" }

type sentimentFeedResponse struct {
	Feed []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		TimePublished string `json:"time_published"` // 20250310T143000
		Summary       string `json:"summary"`
		TickerScores  []struct {
			Ticker string `json:"ticker"`
			Score  string `json:"ticker_sentiment_score"` // -1..1 from the feed
		} `json:"ticker_sentiment"`
	} `json:"feed"`
}

// Fetch implements Fetcher. The feed reports sentiment in [-1, 1]; scores
// are rescaled to the [0, 1] convention before insert.
func (f *SentimentFeedFetcher) Fetch(ctx context.Context) ([]db.Event, error) {
	if f.baseURL == "" || f.apiKey == "" {
		return nil, nil
	}

	var events []db.Event
	var lastErr error
	for _, ticker := range f.tickers {
		batch, err := f.query(ctx, ticker)
		if err != nil {
			lastErr = err
			continue
		}
		events = append(events, batch...)
	}
	if len(events) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return events, nil
}

func (f *SentimentFeedFetcher) query(ctx context.Context, ticker string) ([]db.Event, error) {
	q := url.Values{}
	q.Set("function", "NEWS_SENTIMENT")
	q.Set("tickers", ticker)
	q.Set("limit", "20")
	q.Set("apikey", f.apiKey)
	endpoint := fmt.Sprintf("%s/query?%s", f.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment feed request failed for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment feed returned status %d for %s", resp.StatusCode, ticker)
	}

	var parsed sentimentFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse sentiment feed: %w", err)
	}

	var events []db.Event
	for _, item := range parsed.Feed {
		ts, err := time.Parse("20060102T150405", item.TimePublished)
		if err != nil {
			continue
		}

		var score *float64
		for _, tsc := range item.TickerScores {
			if !strings.EqualFold(tsc.Ticker, ticker) {
				continue
			}
			var raw float64
			if _, err := fmt.Sscanf(tsc.Score, "%f", &raw); err == nil {
				s := RescaleSentiment(raw)
				score = &s
			}
			break
		}

		content := strings.TrimSpace(item.Title)
		if s := strings.TrimSpace(item.Summary); s != "" {
			content += ". " + s
		}
		if content == "" {
			continue
		}

		events = append(events, db.Event{
			TS:             ts,
			Ticker:         ticker,
			Source:         "sentiment_feed",
			Content:        content,
			EventType:      "NEWS",
			Importance:     "MEDIUM",
			Region:         "USA",
			Link:           item.URL,
			SentimentScore: score,
		})
	}
	return events, nil
}

// RescaleSentiment maps a [-1, 1] feed score onto the [0, 1] convention
// used everywhere in the knowledge base, clamping out-of-range input.
func RescaleSentiment(raw float64) float64 {
	s := (raw + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
