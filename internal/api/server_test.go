package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobyzev-yuri/lse/internal/analyst"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/executor"
)

func f(v float64) *float64 { return &v }

type fakePortfolio struct {
	cash      float64
	positions []db.Position
}

func (p *fakePortfolio) Positions(ctx context.Context) ([]db.Position, error) {
	return p.positions, nil
}
func (p *fakePortfolio) Cash(ctx context.Context, q db.Querier) (float64, error) {
	return p.cash, nil
}

type fakeQuotes struct {
	history []db.Quote
	latest  map[string]*db.Quote
}

func (q *fakeQuotes) History(ctx context.Context, ticker string, limit int) ([]db.Quote, error) {
	if limit < len(q.history) {
		return q.history[:limit], nil
	}
	return q.history, nil
}
func (q *fakeQuotes) Latest(ctx context.Context, ticker string) (*db.Quote, error) {
	return q.latest[ticker], nil
}

type fakeAnalyst struct {
	decisions map[string]*analyst.Decision
}

func (a *fakeAnalyst) Analyze(ctx context.Context, ticker string, useLLM bool) (*analyst.Decision, error) {
	if d, ok := a.decisions[ticker]; ok {
		return d, nil
	}
	return &analyst.Decision{Ticker: ticker, Decision: "HOLD"}, nil
}

type fakeExecutor struct {
	buys  []string
	sells []string
}

func (e *fakeExecutor) Buy(ctx context.Context, ticker, signal, strategyName string, quantity, price float64, sentiment *float64) (*executor.Result, error) {
	e.buys = append(e.buys, ticker)
	return &executor.Result{
		Executed: true,
		Trade:    &db.Trade{ID: 1, TS: time.Now(), Ticker: ticker, Side: "BUY", Quantity: 10, Price: 100, SignalType: signal, StrategyName: strategyName},
	}, nil
}
func (e *fakeExecutor) Sell(ctx context.Context, ticker, exitReason, strategyName string, price float64, sentiment *float64) (*executor.Result, error) {
	e.sells = append(e.sells, ticker)
	return &executor.Result{
		Executed: true,
		Trade:    &db.Trade{ID: 2, TS: time.Now(), Ticker: ticker, Side: "SELL", Quantity: 10, Price: 110, SignalType: exitReason, StrategyName: strategyName},
	}, nil
}

type fakeNews struct {
	lastTicker  string
	err         error
	events      []db.Event
	lastFilters []db.EventFilter
	lastLimit   int
}

func (n *fakeNews) InsertManual(ctx context.Context, ticker, source, content string, sentiment *float64) (int64, error) {
	if n.err != nil {
		return 0, n.err
	}
	n.lastTicker = ticker
	return 42, nil
}

func (n *fakeNews) Query(ctx context.Context, limit int, filters ...db.EventFilter) ([]db.Event, error) {
	n.lastLimit = limit
	n.lastFilters = filters
	return n.events, nil
}

type fakeTrades struct {
	trades []db.Trade
}

func (t *fakeTrades) Recent(ctx context.Context, ticker string, limit int) ([]db.Trade, error) {
	return t.trades, nil
}

func newTestServer(t *testing.T) (*Server, *fakeExecutor, *fakeNews) {
	t.Helper()
	exec := &fakeExecutor{}
	news := &fakeNews{}
	s := NewServer(Config{
		Portfolio: &fakePortfolio{
			cash: 50000,
			positions: []db.Position{
				{Ticker: "MSFT", Quantity: 10, AvgEntryPrice: 340},
			},
		},
		Quotes: &fakeQuotes{
			history: []db.Quote{
				{Date: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), Ticker: "MSFT", Close: 348, Volume: 1000, SMA5: f(346)},
				{Date: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), Ticker: "MSFT", Close: 350, Volume: 1200, SMA5: f(347)},
			},
			latest: map[string]*db.Quote{"MSFT": {Ticker: "MSFT", Close: 350}},
		},
		Analyst: &fakeAnalyst{decisions: map[string]*analyst.Decision{
			"MSFT": {Ticker: "MSFT", Decision: "STRONG_BUY", Regime: "Momentum", WeightedSentiment: 0.8},
			"NVDA": {Ticker: "NVDA", Decision: "SELL", Regime: "VolatileGap", WeightedSentiment: 0.2},
		}},
		Executor: exec,
		News:     news,
		Trades: &fakeTrades{trades: []db.Trade{
			{ID: 7, TS: time.Now(), Ticker: "MSFT", Side: "BUY", Quantity: 10, Price: 340},
		}},
	})
	return s, exec, news
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestPortfolioEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 50000.0, body["cash"])
	positions := body["positions"].([]any)
	require.Len(t, positions, 1)
	pos := positions[0].(map[string]any)
	assert.Equal(t, "MSFT", pos["ticker"])
	assert.Equal(t, 350.0, pos["last_price"])
	// (350 - 340) * 10
	assert.InDelta(t, 100.0, pos["unrealized_pnl"].(float64), 1e-9)
}

func TestQuotesEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/api/quotes/MSFT?days=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	bars := body["bars"].([]any)
	require.Len(t, bars, 2)
	first := bars[0].(map[string]any)
	assert.Equal(t, "2026-08-20", first["date"])
	assert.Equal(t, 348.0, first["close"])
	assert.Nil(t, first["rsi"])
}

func TestQuotesEndpointRejectsBadDays(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, _ := doJSON(t, s, http.MethodGet, "/api/quotes/MSFT?days=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodPost, "/api/analyze", `{"ticker":"MSFT"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "STRONG_BUY", body["decision"])
	assert.Equal(t, "Momentum", body["regime"])
}

func TestAnalyzeEndpointRequiresTicker(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, _ := doJSON(t, s, http.MethodPost, "/api/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteEndpoint(t *testing.T) {
	s, exec, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodPost, "/api/execute", `{"tickers":["MSFT","NVDA","AAPL"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"MSFT"}, exec.buys)
	assert.Equal(t, []string{"NVDA"}, exec.sells)

	trades := body["trades"].([]any)
	require.Len(t, trades, 2)
	skipped := body["skipped"].([]any)
	require.Len(t, skipped, 1)
	assert.Equal(t, "AAPL", skipped[0].(map[string]any)["ticker"])
}

func TestNewsEndpoint(t *testing.T) {
	s, _, news := newTestServer(t)
	w, body := doJSON(t, s, http.MethodPost, "/api/news", `{"ticker":"MSFT","content":"Guidance raised","sentiment_score":0.8}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 42.0, body["id"])
	assert.Equal(t, "MSFT", news.lastTicker)
}

func TestNewsEndpointValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, _ := doJSON(t, s, http.MethodPost, "/api/news", `{"ticker":"MSFT"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewsQueryEndpoint(t *testing.T) {
	s, _, news := newTestServer(t)
	news.events = []db.Event{
		{ID: 3, TS: time.Now(), Ticker: "MSFT", Source: "newsapi", Content: "Guidance raised", EventType: "NEWS", Importance: "HIGH"},
	}

	w, body := doJSON(t, s, http.MethodGet, "/api/news?ticker=MSFT&event_type=NEWS&q=guidance&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "Guidance raised", events[0].(map[string]any)["content"])

	assert.Equal(t, 10, news.lastLimit)
	require.Len(t, news.lastFilters, 3)
	assert.Equal(t, db.TickerFilter{Ticker: "MSFT"}, news.lastFilters[0])
	assert.Equal(t, db.EventTypeFilter{EventType: "NEWS"}, news.lastFilters[1])
	assert.Equal(t, db.ContentFilter{Text: "guidance"}, news.lastFilters[2])
}

func TestTradesEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/api/trades?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "MSFT", trades[0].(map[string]any)["ticker"])
}
