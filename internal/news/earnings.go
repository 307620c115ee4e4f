package news

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kobyzev-yuri/lse/internal/db"
)

// EarningsFetcher pulls an earnings-calendar CSV and maps rows for the
// watched tickers to EARNINGS events.
type EarningsFetcher struct {
	endpoint string
	apiKey   string
	watched  map[string]bool
	http     *http.Client
}

// NewEarningsFetcher creates the fetcher for a CSV calendar endpoint.
func NewEarningsFetcher(endpoint, apiKey string, tickers []string, timeout time.Duration) *EarningsFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	watched := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		watched[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return &EarningsFetcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		watched:  watched,
		http:     &http.Client{Timeout: timeout},
	}
}

// Name implements Fetcher.
func (f *EarningsFetcher) Name() string { return "earnings" }

// Fetch implements Fetcher. CSV layout: symbol, name, reportDate,
// fiscalDateEnding, estimate, currency. Malformed rows are skipped.
func (f *EarningsFetcher) Fetch(ctx context.Context) ([]db.Event, error) {
	if f.endpoint == "" || f.apiKey == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s?function=EARNINGS_CALENDAR&horizon=3month&apikey=%s", f.endpoint, f.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("earnings calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("earnings calendar returned status %d", resp.StatusCode)
	}

	return f.parse(resp.Body)
}

func (f *EarningsFetcher) parse(r io.Reader) ([]db.Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	symIdx, okSym := col["symbol"]
	dateIdx, okDate := col["reportdate"]
	if !okSym || !okDate {
		return nil, fmt.Errorf("calendar CSV missing symbol/reportDate columns")
	}

	var events []db.Event
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if symIdx >= len(row) || dateIdx >= len(row) {
			continue
		}

		symbol := strings.ToUpper(strings.TrimSpace(row[symIdx]))
		if !f.watched[symbol] {
			continue
		}
		reportDate, err := time.Parse("2006-01-02", strings.TrimSpace(row[dateIdx]))
		if err != nil {
			continue
		}

		name := symbol
		if i, ok := col["name"]; ok && i < len(row) && row[i] != "" {
			name = row[i]
		}
		content := fmt.Sprintf("%s (%s) reports earnings on %s", name, symbol, reportDate.Format("2006-01-02"))
		if i, ok := col["estimate"]; ok && i < len(row) && strings.TrimSpace(row[i]) != "" {
			content += fmt.Sprintf(", EPS estimate %s", strings.TrimSpace(row[i]))
		}

		events = append(events, db.Event{
			TS:         reportDate,
			Ticker:     symbol,
			Source:     "earnings_calendar",
			Content:    content,
			EventType:  "EARNINGS",
			Importance: "HIGH",
			Region:     "USA",
		})
	}
	return events, nil
}
