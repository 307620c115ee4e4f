package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/llm"
)

func TestParseSentiment(t *testing.T) {
	reply, err := parseSentiment(`{"score": 0.85, "insight": "Bullish on strong guidance."}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, reply.Score, 1e-9)
	assert.Equal(t, "Bullish on strong guidance.", reply.Insight)
}

func TestParseSentimentClampsScore(t *testing.T) {
	reply, err := parseSentiment(`{"score": 1.4, "insight": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, reply.Score)

	reply, err = parseSentiment(`{"score": -0.2, "insight": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, reply.Score)
}

func TestParseSentimentRejectsProseOnly(t *testing.T) {
	_, err := parseSentiment("The sentiment is positive.")
	require.Error(t, err)
}

type fakeSentimentStore struct {
	pending []db.Event
	scored  map[int64]float64
	since   time.Time
}

func (f *fakeSentimentStore) PendingSentiment(ctx context.Context, minLen int, since time.Time, limit int) ([]db.Event, error) {
	f.since = since
	var out []db.Event
	for _, e := range f.pending {
		if !e.TS.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeSentimentStore) UpdateSentiment(ctx context.Context, id int64, score float64, insight string) error {
	if f.scored == nil {
		f.scored = map[int64]float64{}
	}
	f.scored[id] = score
	return nil
}

type scriptedLLM struct {
	replies []string
	errs    []error
	i       int
}

func (s *scriptedLLM) Model() string { return "scripted" }
func (s *scriptedLLM) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (*llm.Result, error) {
	idx := s.i
	s.i++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	return &llm.Result{Text: s.replies[idx], Model: "scripted"}, nil
}

func TestEnrichPendingSkipsUnparseableRows(t *testing.T) {
	now := time.Now()
	store := &fakeSentimentStore{pending: []db.Event{
		{ID: 1, TS: now, Ticker: "MSFT", Content: "Strong quarterly results announced today"},
		{ID: 2, TS: now, Ticker: "MSFT", Content: "Another headline about the same company"},
	}}
	provider := &scriptedLLM{replies: []string{
		"not json at all",
		`{"score": 0.7, "insight": "ok"}`,
	}}

	e := NewSentimentEnricher(store, provider, nil)
	scored, err := e.EnrichPending(context.Background(), 30, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, scored)
	assert.NotContains(t, store.scored, int64(1))
	assert.InDelta(t, 0.7, store.scored[2], 1e-9)
}

func TestEnrichPendingStopsBatchOnTransportError(t *testing.T) {
	now := time.Now()
	store := &fakeSentimentStore{pending: []db.Event{
		{ID: 1, TS: now, Ticker: "MSFT", Content: "First headline long enough to score"},
		{ID: 2, TS: now, Ticker: "MSFT", Content: "Second headline long enough to score"},
	}}
	provider := &scriptedLLM{
		replies: []string{"", ""},
		errs:    []error{errors.New("connection refused"), nil},
	}

	e := NewSentimentEnricher(store, provider, nil)
	scored, err := e.EnrichPending(context.Background(), 30, 10)
	require.Error(t, err)
	assert.Equal(t, 0, scored)
	assert.Empty(t, store.scored)
}

func TestEnrichPendingBoundsSelectionAge(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	store := &fakeSentimentStore{pending: []db.Event{
		{ID: 1, TS: now.AddDate(0, 0, -90), Ticker: "MSFT", Content: "Ancient backlog row that must not be scored"},
		{ID: 2, TS: now.AddDate(0, 0, -3), Ticker: "MSFT", Content: "Recent headline that should be scored"},
	}}
	provider := &scriptedLLM{replies: []string{`{"score": 0.6, "insight": "ok"}`}}

	e := NewSentimentEnricher(store, provider, clock.Fixed(now))
	scored, err := e.EnrichPending(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, scored)
	assert.Equal(t, now.AddDate(0, 0, -7), store.since)
	assert.NotContains(t, store.scored, int64(1))
	assert.InDelta(t, 0.6, store.scored[2], 1e-9)
}

type fakeOutcomeStore struct {
	ripe     []db.Event
	outcomes map[int64][]byte
}

func (f *fakeOutcomeStore) RipeForOutcome(ctx context.Context, asOf time.Time, daysAfter, limit int) ([]db.Event, error) {
	return f.ripe, nil
}
func (f *fakeOutcomeStore) UpdateOutcome(ctx context.Context, id int64, outcome []byte) error {
	if f.outcomes == nil {
		f.outcomes = map[int64][]byte{}
	}
	f.outcomes[id] = outcome
	return nil
}

type fakeQuoteReader struct {
	quotes map[string][]db.Quote // keyed by ticker, ascending dates
}

func (f *fakeQuoteReader) FirstOnOrAfter(ctx context.Context, ticker string, date time.Time) (*db.Quote, error) {
	for _, q := range f.quotes[ticker] {
		if !q.Date.Before(date) {
			quote := q
			return &quote, nil
		}
	}
	return nil, nil
}
func (f *fakeQuoteReader) Range(ctx context.Context, ticker string, from, to time.Time) ([]db.Quote, error) {
	var out []db.Quote
	for _, q := range f.quotes[ticker] {
		if !q.Date.Before(from) && !q.Date.After(to) {
			out = append(out, q)
		}
	}
	return out, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAnalyzeRipeEventsPositiveOutcome(t *testing.T) {
	sentiment := 0.80
	store := &fakeOutcomeStore{ripe: []db.Event{{
		ID:             42,
		TS:             day(2025, 3, 10),
		Ticker:         "MSFT",
		Content:        "Guidance raised",
		SentimentScore: &sentiment,
	}}}
	quotes := &fakeQuoteReader{quotes: map[string][]db.Quote{
		"MSFT": {
			{Date: day(2025, 3, 10), Ticker: "MSFT", Close: 300},
			{Date: day(2025, 3, 12), Ticker: "MSFT", Close: 290},
			{Date: day(2025, 3, 17), Ticker: "MSFT", Close: 315},
		},
	}}

	a := NewOutcomeAnalyzer(store, quotes, clock.Fixed(day(2025, 3, 20)))
	n, err := a.AnalyzeRipeEvents(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var outcome Outcome
	require.NoError(t, json.Unmarshal(store.outcomes[42], &outcome))
	assert.InDelta(t, 5.0, outcome.PriceChangePct, 1e-9)
	assert.Equal(t, "POSITIVE", outcome.Outcome)
	require.NotNil(t, outcome.SentimentMatch)
	assert.True(t, *outcome.SentimentMatch)
	assert.InDelta(t, 5.0, outcome.MaxUpPct, 1e-9)
	assert.InDelta(t, -10.0/3.0, outcome.MaxDownPct, 1e-6)
	assert.Equal(t, 7, outcome.DaysAfter)
}

func TestAnalyzeRipeEventsSkipsMissingQuotes(t *testing.T) {
	store := &fakeOutcomeStore{ripe: []db.Event{{
		ID:     7,
		TS:     day(2025, 3, 10),
		Ticker: "NOQUOTES",
	}}}
	quotes := &fakeQuoteReader{quotes: map[string][]db.Quote{}}

	a := NewOutcomeAnalyzer(store, quotes, clock.Fixed(day(2025, 3, 20)))
	n, err := a.AnalyzeRipeEvents(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, store.outcomes)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "POSITIVE", classify(2.0))
	assert.Equal(t, "NEGATIVE", classify(-2.0))
	assert.Equal(t, "NEUTRAL", classify(1.99))
	assert.Equal(t, "NEUTRAL", classify(-1.99))
}

func TestSentimentMatch(t *testing.T) {
	bullish := 0.8
	bearish := 0.2
	neutral := 0.5

	m := sentimentMatch(&bullish, 3.0)
	require.NotNil(t, m)
	assert.True(t, *m)

	m = sentimentMatch(&bearish, 3.0)
	require.NotNil(t, m)
	assert.False(t, *m)

	assert.Nil(t, sentimentMatch(&neutral, 3.0))
	assert.Nil(t, sentimentMatch(nil, 3.0))
	assert.Nil(t, sentimentMatch(&bullish, 0))
}
