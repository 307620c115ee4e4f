package news

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/llm"
)

const llmNewsSystemPrompt = `You are a financial news researcher. Report only real, recent news you are confident about. Respond with strict JSON: {"items": [{"headline": string, "summary": string, "published_hours_ago": number}]}. Return {"items": []} if you know of nothing recent.`

// LLMNewsFetcher asks the LLM for known recent news per ticker. Each ticker
// is cooled down so the same question is not re-asked every cycle.
type LLMNewsFetcher struct {
	provider llm.Provider
	tickers  []string
	cooldown time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	lastAsk  map[string]time.Time
}

// NewLLMNewsFetcher creates the fetcher. cooldown <= 0 defaults to 12h.
func NewLLMNewsFetcher(provider llm.Provider, tickers []string, cooldown time.Duration) *LLMNewsFetcher {
	if cooldown <= 0 {
		cooldown = 12 * time.Hour
	}
	return &LLMNewsFetcher{
		provider: provider,
		tickers:  tickers,
		cooldown: cooldown,
		logger:   config.NewLogger("llm-news"),
		lastAsk:  make(map[string]time.Time),
	}
}

// Name implements Fetcher.
func (f *LLMNewsFetcher) Name() string { return "llm_news" }

func (f *LLMNewsFetcher) due(ticker string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.lastAsk[ticker]; ok && now.Sub(last) < f.cooldown {
		return false
	}
	f.lastAsk[ticker] = now
	return true
}

type llmNewsItems struct {
	Items []struct {
		Headline          string  `json:"headline"`
		Summary           string  `json:"summary"`
		PublishedHoursAgo float64 `json:"published_hours_ago"`
	} `json:"items"`
}

// Fetch implements Fetcher. A parse failure for one ticker skips that
// ticker; transport failures stop the pass.
func (f *LLMNewsFetcher) Fetch(ctx context.Context) ([]db.Event, error) {
	if f.provider == nil {
		return nil, nil
	}

	now := time.Now()
	var events []db.Event
	for _, ticker := range f.tickers {
		if !f.due(ticker, now) {
			continue
		}

		user := fmt.Sprintf("What notable news about %s was published in the last 24 hours?", ticker)
		res, err := f.provider.Generate(ctx, llmNewsSystemPrompt, user, 800, 0.2)
		if err != nil {
			return events, fmt.Errorf("LLM news request failed for %s: %w", ticker, err)
		}

		raw, err := llm.ExtractJSON(res.Text)
		if err != nil {
			f.logger.Warn().Str("ticker", ticker).Msg("LLM news response had no JSON, skipping")
			continue
		}
		var parsed llmNewsItems
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			f.logger.Warn().Err(err).Str("ticker", ticker).Msg("Malformed LLM news JSON, skipping")
			continue
		}

		for _, item := range parsed.Items {
			if item.Headline == "" {
				continue
			}
			content := item.Headline
			if item.Summary != "" {
				content += ". " + item.Summary
			}
			ts := now.Add(-time.Duration(item.PublishedHoursAgo * float64(time.Hour)))
			events = append(events, db.Event{
				TS:         ts,
				Ticker:     ticker,
				Source:     "llm:" + f.provider.Model(),
				Content:    content,
				EventType:  "NEWS",
				Importance: "LOW",
				Region:     "USA",
			})
		}
	}
	return events, nil
}
