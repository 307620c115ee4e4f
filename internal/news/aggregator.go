package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kobyzev-yuri/lse/internal/db"
)

// AggregatorFetcher queries a NewsAPI-style aggregator for a set of tickers.
// The free tier is quota-limited, so requests are counted per calendar day
// and the fetcher goes quiet once the budget is spent.
type AggregatorFetcher struct {
	baseURL    string
	apiKey     string
	tickers    []string
	sources    []string
	dailyQuota int
	http       *http.Client

	mu        sync.Mutex
	usedToday int
	quotaDay  string
}

// NewAggregatorFetcher creates the fetcher. dailyQuota <= 0 defaults to 90.
func NewAggregatorFetcher(baseURL, apiKey string, tickers, sources []string, dailyQuota int, timeout time.Duration) *AggregatorFetcher {
	if baseURL == "" {
		baseURL = "https://newsapi.org"
	}
	if dailyQuota <= 0 {
		dailyQuota = 90
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AggregatorFetcher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		tickers:    tickers,
		sources:    sources,
		dailyQuota: dailyQuota,
		http:       &http.Client{Timeout: timeout},
	}
}

// Name implements Fetcher.
func (f *AggregatorFetcher) Name() string { return "aggregator" }

func (f *AggregatorFetcher) takeQuota() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	today := time.Now().Format("2006-01-02")
	if f.quotaDay != today {
		f.quotaDay = today
		f.usedToday = 0
	}
	if f.usedToday >= f.dailyQuota {
		return false
	}
	f.usedToday++
	return true
}

type aggregatorResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// Fetch implements Fetcher: one query per configured ticker, within quota.
func (f *AggregatorFetcher) Fetch(ctx context.Context) ([]db.Event, error) {
	if f.apiKey == "" {
		return nil, nil
	}

	var events []db.Event
	var lastErr error
	for _, ticker := range f.tickers {
		if !f.takeQuota() {
			break
		}
		articles, err := f.query(ctx, ticker)
		if err != nil {
			lastErr = err
			continue
		}
		events = append(events, articles...)
	}

	if len(events) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return events, nil
}

func (f *AggregatorFetcher) query(ctx context.Context, ticker string) ([]db.Event, error) {
	q := url.Values{}
	q.Set("q", ticker)
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", "20")
	if len(f.sources) > 0 {
		q.Set("sources", strings.Join(f.sources, ","))
	}
	endpoint := fmt.Sprintf("%s/v2/everything?%s", f.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", f.apiKey)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator request failed for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned status %d for %s", resp.StatusCode, ticker)
	}

	var parsed aggregatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse aggregator response: %w", err)
	}

	var events []db.Event
	for _, a := range parsed.Articles {
		content := strings.TrimSpace(a.Title)
		if d := strings.TrimSpace(a.Description); d != "" {
			content += ". " + d
		}
		if content == "" {
			continue
		}
		events = append(events, db.Event{
			TS:         a.PublishedAt,
			Ticker:     ticker,
			Source:     "aggregator:" + a.Source.Name,
			Content:    content,
			EventType:  "NEWS",
			Importance: "MEDIUM",
			Region:     "USA",
			Link:       a.URL,
		})
	}
	return events, nil
}
