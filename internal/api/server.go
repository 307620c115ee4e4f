// Package api exposes the command/query facade over HTTP. All writes return
// the new authoritative state read back from the database.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/analyst"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/executor"
)

type portfolioReader interface {
	Positions(ctx context.Context) ([]db.Position, error)
	Cash(ctx context.Context, q db.Querier) (float64, error)
}

type quoteReader interface {
	History(ctx context.Context, ticker string, limit int) ([]db.Quote, error)
	Latest(ctx context.Context, ticker string) (*db.Quote, error)
}

type analyzer interface {
	Analyze(ctx context.Context, ticker string, useLLM bool) (*analyst.Decision, error)
}

type trader interface {
	Buy(ctx context.Context, ticker, signal, strategyName string, quantity, price float64, sentiment *float64) (*executor.Result, error)
	Sell(ctx context.Context, ticker, exitReason, strategyName string, price float64, sentiment *float64) (*executor.Result, error)
}

type newsService interface {
	InsertManual(ctx context.Context, ticker, source, content string, sentiment *float64) (int64, error)
	Query(ctx context.Context, limit int, filters ...db.EventFilter) ([]db.Event, error)
}

type tradeReader interface {
	Recent(ctx context.Context, ticker string, limit int) ([]db.Trade, error)
}

// Server is the HTTP facade.
type Server struct {
	engine    *gin.Engine
	portfolio portfolioReader
	querier   db.Querier
	quotes    quoteReader
	analyst   analyzer
	exec      trader
	news      newsService
	trades    tradeReader
	health    func(ctx context.Context) error
	logger    zerolog.Logger
}

// Config wires the server dependencies. Health may be nil.
type Config struct {
	Portfolio portfolioReader
	Querier   db.Querier
	Quotes    quoteReader
	Analyst   analyzer
	Executor  trader
	News      newsService
	Trades    tradeReader
	Health    func(ctx context.Context) error
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	s := &Server{
		portfolio: cfg.Portfolio,
		querier:   cfg.Querier,
		quotes:    cfg.Quotes,
		analyst:   cfg.Analyst,
		exec:      cfg.Executor,
		news:      cfg.News,
		trades:    cfg.Trades,
		health:    cfg.Health,
		logger:    config.NewLogger("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := engine.Group("/api")
	{
		apiGroup.GET("/portfolio", s.handlePortfolio)
		apiGroup.GET("/quotes/:ticker", s.handleQuotes)
		apiGroup.POST("/analyze", s.handleAnalyze)
		apiGroup.POST("/execute", s.handleExecute)
		apiGroup.POST("/news", s.handleNews)
		apiGroup.GET("/news", s.handleNewsQuery)
		apiGroup.GET("/trades", s.handleTrades)
	}

	s.engine = engine
	return s
}

// Handler returns the http handler for serving and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("API listening")
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type positionView struct {
	Ticker        string  `json:"ticker"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	LastPrice     float64 `json:"last_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

func (s *Server) handlePortfolio(c *gin.Context) {
	ctx := c.Request.Context()

	cash, err := s.portfolio.Cash(ctx, s.querier)
	if err != nil {
		s.fail(c, err)
		return
	}
	positions, err := s.portfolio.Positions(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		v := positionView{Ticker: p.Ticker, Quantity: p.Quantity, AvgEntryPrice: p.AvgEntryPrice}
		if q, err := s.quotes.Latest(ctx, p.Ticker); err == nil && q != nil {
			v.LastPrice = q.Close
			v.UnrealizedPnL = (q.Close - p.AvgEntryPrice) * p.Quantity
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"cash": cash, "positions": views})
}

type barView struct {
	Date        string   `json:"date"`
	Ticker      string   `json:"ticker"`
	Close       float64  `json:"close"`
	Volume      int64    `json:"volume"`
	SMA5        *float64 `json:"sma_5"`
	Volatility5 *float64 `json:"volatility_5"`
	RSI         *float64 `json:"rsi"`
}

func (s *Server) handleQuotes(c *gin.Context) {
	ticker := c.Param("ticker")
	days := 30
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	quotes, err := s.quotes.History(c.Request.Context(), ticker, days)
	if err != nil {
		s.fail(c, err)
		return
	}
	bars := make([]barView, 0, len(quotes))
	for _, q := range quotes {
		bars = append(bars, barView{
			Date: q.Date.Format("2006-01-02"), Ticker: q.Ticker,
			Close: q.Close, Volume: q.Volume,
			SMA5: q.SMA5, Volatility5: q.Volatility5, RSI: q.RSI,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "bars": bars})
}

type analyzeRequest struct {
	Ticker string `json:"ticker" binding:"required"`
	UseLLM bool   `json:"use_llm"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := s.analyst.Analyze(c.Request.Context(), req.Ticker, req.UseLLM)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

type executeRequest struct {
	Tickers []string `json:"tickers" binding:"required,min=1"`
	UseLLM  bool     `json:"use_llm"`
}

type tradeView struct {
	ID               int64    `json:"id"`
	TS               string   `json:"ts"`
	Ticker           string   `json:"ticker"`
	Side             string   `json:"side"`
	Quantity         float64  `json:"quantity"`
	Price            float64  `json:"price"`
	Commission       float64  `json:"commission"`
	SignalType       string   `json:"signal_type"`
	StrategyName     string   `json:"strategy_name"`
	TotalValue       float64  `json:"total_value"`
	SentimentAtTrade *float64 `json:"sentiment_at_trade"`
}

func toTradeView(t db.Trade) tradeView {
	return tradeView{
		ID: t.ID, TS: t.TS.Format(time.RFC3339), Ticker: t.Ticker, Side: t.Side,
		Quantity: t.Quantity, Price: t.Price, Commission: t.Commission,
		SignalType: t.SignalType, StrategyName: t.StrategyName,
		TotalValue: t.TotalValue, SentimentAtTrade: t.SentimentAtTrade,
	}
}

// handleExecute runs one full decision pass over the requested tickers and
// reports the journal rows it produced. Skipped tickers carry the reason.
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	trades := make([]tradeView, 0)
	skipped := make([]gin.H, 0)
	for _, ticker := range req.Tickers {
		decision, err := s.analyst.Analyze(ctx, ticker, req.UseLLM)
		if err != nil {
			s.fail(c, err)
			return
		}

		var res *executor.Result
		switch decision.Decision {
		case "STRONG_BUY", "BUY":
			res, err = s.exec.Buy(ctx, ticker, decision.Decision, decision.Regime, 0, 0, &decision.WeightedSentiment)
		case "SELL":
			res, err = s.exec.Sell(ctx, ticker, executor.ExitSignal, decision.Regime, 0, &decision.WeightedSentiment)
		default:
			skipped = append(skipped, gin.H{"ticker": ticker, "reason": "decision is " + decision.Decision})
			continue
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		if res.Executed {
			trades = append(trades, toTradeView(*res.Trade))
		} else {
			skipped = append(skipped, gin.H{"ticker": ticker, "reason": res.Reason})
		}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "skipped": skipped})
}

type newsRequest struct {
	Ticker         string   `json:"ticker" binding:"required"`
	Source         string   `json:"source"`
	Content        string   `json:"content" binding:"required"`
	SentimentScore *float64 `json:"sentiment_score"`
}

func (s *Server) handleNews(c *gin.Context) {
	var req newsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.news.InsertManual(c.Request.Context(), req.Ticker, req.Source, req.Content, req.SentimentScore)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type eventView struct {
	ID             int64    `json:"id"`
	TS             string   `json:"ts"`
	Ticker         string   `json:"ticker"`
	Source         string   `json:"source"`
	Content        string   `json:"content"`
	EventType      string   `json:"event_type"`
	Importance     string   `json:"importance"`
	Link           string   `json:"link,omitempty"`
	SentimentScore *float64 `json:"sentiment_score"`
	Insight        *string  `json:"insight,omitempty"`
}

// handleNewsQuery lists knowledge-base entries filtered by the query params:
// ticker, event_type, source, importance and q (content substring).
func (s *Server) handleNewsQuery(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	var filters []db.EventFilter
	if v := c.Query("ticker"); v != "" {
		filters = append(filters, db.TickerFilter{Ticker: v})
	}
	if v := c.Query("event_type"); v != "" {
		filters = append(filters, db.EventTypeFilter{EventType: v})
	}
	if v := c.Query("source"); v != "" {
		filters = append(filters, db.SourceFilter{Source: v})
	}
	if v := c.Query("importance"); v != "" {
		filters = append(filters, db.ImportanceFilter{Importance: v})
	}
	if v := c.Query("q"); v != "" {
		filters = append(filters, db.ContentFilter{Text: v})
	}

	events, err := s.news.Query(c.Request.Context(), limit, filters...)
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID: e.ID, TS: e.TS.Format(time.RFC3339), Ticker: e.Ticker,
			Source: e.Source, Content: e.Content, EventType: e.EventType,
			Importance: e.Importance, Link: e.Link,
			SentimentScore: e.SentimentScore, Insight: e.Insight,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	rows, err := s.trades.Recent(c.Request.Context(), c.Query("ticker"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]tradeView, 0, len(rows))
	for _, t := range rows {
		views = append(views, toTradeView(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": views})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
