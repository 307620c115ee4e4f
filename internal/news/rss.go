package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/kobyzev-yuri/lse/internal/db"
)

// Feed describes one RSS/Atom source and how its items map to events.
type Feed struct {
	URL        string
	Source     string
	Ticker     string // usually a macro sentinel
	EventType  string
	Importance string
	Region     string
}

// CentralBankFeeds is the default macro feed set.
var CentralBankFeeds = []Feed{
	{
		URL:        "https://www.federalreserve.gov/feeds/press_monetary.xml",
		Source:     "fed_rss",
		Ticker:     "US_MACRO",
		EventType:  "FOMC_STATEMENT",
		Importance: "HIGH",
		Region:     "USA",
	},
	{
		URL:        "https://www.federalreserve.gov/feeds/speeches.xml",
		Source:     "fed_speeches_rss",
		Ticker:     "US_MACRO",
		EventType:  "FOMC_SPEECH",
		Importance: "MEDIUM",
		Region:     "USA",
	},
	{
		URL:        "https://www.bankofengland.co.uk/rss/news",
		Source:     "boe_rss",
		Ticker:     "MACRO",
		EventType:  "BOE_STATEMENT",
		Importance: "HIGH",
		Region:     "UK",
	},
	{
		URL:        "https://www.ecb.europa.eu/rss/press.html",
		Source:     "ecb_rss",
		Ticker:     "MACRO",
		EventType:  "ECB_STATEMENT",
		Importance: "HIGH",
		Region:     "EU",
	},
	{
		URL:        "https://www.boj.or.jp/en/rss/whatsnew.xml",
		Source:     "boj_rss",
		Ticker:     "MACRO",
		EventType:  "BOJ_STATEMENT",
		Importance: "MEDIUM",
		Region:     "Japan",
	},
}

// RSSFetcher parses RSS/Atom feeds into knowledge-base events.
type RSSFetcher struct {
	feeds  []Feed
	maxAge time.Duration
	parser *gofeed.Parser
}

// NewRSSFetcher creates the fetcher. maxAge <= 0 defaults to 7 days; older
// items are dropped before insert.
func NewRSSFetcher(feeds []Feed, maxAge time.Duration) *RSSFetcher {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &RSSFetcher{feeds: feeds, maxAge: maxAge, parser: gofeed.NewParser()}
}

// Name implements Fetcher.
func (f *RSSFetcher) Name() string { return "rss" }

// Fetch implements Fetcher. A broken feed is skipped; others still deliver.
func (f *RSSFetcher) Fetch(ctx context.Context) ([]db.Event, error) {
	var events []db.Event
	var lastErr error
	cutoff := time.Now().Add(-f.maxAge)

	for _, feed := range f.feeds {
		parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
		if err != nil {
			lastErr = fmt.Errorf("failed to parse feed %s: %w", feed.Source, err)
			continue
		}
		for _, item := range parsed.Items {
			ts := time.Now()
			if item.PublishedParsed != nil {
				ts = *item.PublishedParsed
			} else if item.UpdatedParsed != nil {
				ts = *item.UpdatedParsed
			}
			if ts.Before(cutoff) {
				continue
			}

			content := strings.TrimSpace(item.Title)
			if desc := strings.TrimSpace(item.Description); desc != "" {
				content += ". " + desc
			}
			if content == "" {
				continue
			}

			events = append(events, db.Event{
				TS:         ts,
				Ticker:     feed.Ticker,
				Source:     feed.Source,
				Content:    content,
				EventType:  feed.EventType,
				Importance: feed.Importance,
				Region:     feed.Region,
				Link:       item.Link,
			})
		}
	}

	if len(events) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return events, nil
}
