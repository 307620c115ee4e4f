// The trading assistant daemon: schedules quote refreshes, news ingestion,
// enrichment and trading cycles, and serves the HTTP facade.
//
// Exit codes: 0 clean shutdown, 1 usage error, 2 transient external failure
// at startup, 3 fatal configuration error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kobyzev-yuri/lse/internal/alerts"
	"github.com/kobyzev-yuri/lse/internal/analyst"
	"github.com/kobyzev-yuri/lse/internal/api"
	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/embedding"
	"github.com/kobyzev-yuri/lse/internal/enrich"
	"github.com/kobyzev-yuri/lse/internal/executor"
	"github.com/kobyzev-yuri/lse/internal/kb"
	"github.com/kobyzev-yuri/lse/internal/llm"
	"github.com/kobyzev-yuri/lse/internal/market"
	"github.com/kobyzev-yuri/lse/internal/news"
	"github.com/kobyzev-yuri/lse/internal/quotes"
	"github.com/kobyzev-yuri/lse/internal/risk"
	"github.com/kobyzev-yuri/lse/internal/scheduler"
	"github.com/kobyzev-yuri/lse/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("trader", flag.ContinueOnError)
	localConfig := fs.String("config", "local/config.env", "Project-local config file")
	fallbackConfig := fs.String("fallback-config", "configs/config.example.env", "Fallback config file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}

	cfg, err := config.Load(*localConfig, *fallbackConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 3
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbh, err := db.New(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		log.Error().Err(err).Msg("Database unreachable")
		return 2
	}
	defer dbh.Close()

	app, err := buildApp(ctx, cfg, dbh)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return 3
	}

	sched := scheduler.New(ctx)
	if err := registerJobs(sched, cfg, app); err != nil {
		log.Error().Err(err).Msg("Failed to register jobs")
		return 3
	}
	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Run(cfg.API.Addr())
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
		return 0
	case err := <-errCh:
		log.Error().Err(err).Msg("API server failed")
		return 2
	}
}

// application bundles the wired services the scheduler jobs close over.
type application struct {
	cfg        *config.Config
	quotes     *quotes.Service
	pipeline   *news.Pipeline
	sentiment  *enrich.SentimentEnricher
	embeddings *enrich.EmbeddingEnricher
	outcomes   *enrich.OutcomeAnalyzer
	analyst    *analyst.Analyst
	executor   *executor.Executor
	oracle     *session.Oracle
	notifier   *alerts.Notifier
	server     *api.Server
}

func buildApp(ctx context.Context, cfg *config.Config, dbh *db.DB) (*application, error) {
	quoteStore := db.NewQuoteStore(dbh.Pool())
	knowledgeStore := db.NewKnowledgeStore(dbh.Pool())
	portfolioStore := db.NewPortfolioStore(dbh.Pool())
	tradeStore := db.NewTradeStore(dbh.Pool())

	if err := portfolioStore.EnsureCash(ctx, cfg.Trading.InitialCashUSD); err != nil {
		return nil, err
	}

	chart := market.NewChartClient(cfg.Quotes.ChartBaseURL, cfg.Quotes.ProviderTimeout)
	var rsiProvider market.RSIProvider
	if cfg.Quotes.RSIAPIKey != "" {
		rsiProvider = market.NewTAClient(cfg.Quotes.RSIBaseURL, cfg.Quotes.RSIAPIKey, cfg.Quotes.ProviderTimeout)
	}
	quoteSvc := quotes.NewService(quoteStore, chart, rsiProvider, clock.System)

	llmProvider := buildLLM(cfg)
	embedder := buildEmbedder(cfg)

	kbSvc := kb.NewService(knowledgeStore, embedder, clock.System)
	pipeline := news.NewPipeline(kbSvc, buildFetchers(cfg, llmProvider), cfg.News.Workers, cfg.News.FetchTimeout)

	var sentiment *enrich.SentimentEnricher
	if llmProvider != nil && cfg.Enrich.SentimentAutoCalculate {
		sentiment = enrich.NewSentimentEnricher(knowledgeStore, llmProvider, clock.System)
	}
	var embeddings *enrich.EmbeddingEnricher
	if embedder != nil {
		embeddings = enrich.NewEmbeddingEnricher(knowledgeStore, embedder)
	}
	outcomes := enrich.NewOutcomeAnalyzer(knowledgeStore, quoteStore, clock.System)

	oracle := session.NewOracle(chart, clock.System)
	analystSvc := analyst.New(quoteSvc, kbSvc, oracle, llmProvider)

	limits, err := risk.LoadLimits(cfg.Risk.LimitsPath)
	if err != nil {
		return nil, err
	}
	limits.RiskParameters.CommissionRate = cfg.Trading.CommissionRate
	riskMgr := risk.NewManager(limits, portfolioStore, tradeStore, oracle, clock.System)

	notifier, err := alerts.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram alerting disabled")
	}

	exec := executor.New(executor.Config{
		DB:              dbh,
		Portfolio:       portfolioStore,
		Trades:          tradeStore,
		Quotes:          quoteStore,
		Risk:            riskMgr,
		Calendar:        oracle,
		Notifier:        notifier,
		FastTickers:     cfg.Quotes.TickersFast,
		SlippageSellPct: cfg.Trading.SandboxSlippageSellPct,
	})

	server := api.NewServer(api.Config{
		Portfolio: portfolioStore,
		Querier:   dbh.Pool(),
		Quotes:    quoteStore,
		Analyst:   analystSvc,
		Executor:  exec,
		News:      kbSvc,
		Trades:    tradeStore,
		Health:    dbh.Health,
	})

	return &application{
		cfg:        cfg,
		quotes:     quoteSvc,
		pipeline:   pipeline,
		sentiment:  sentiment,
		embeddings: embeddings,
		outcomes:   outcomes,
		analyst:    analystSvc,
		executor:   exec,
		oracle:     oracle,
		notifier:   notifier,
		server:     server,
	}, nil
}

func buildLLM(cfg *config.Config) llm.Provider {
	if !cfg.Enrich.UseLLM {
		return nil
	}
	primary := llm.NewClient(llm.ClientConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})

	compare := cfg.LLM.CompareModelList()
	if len(compare) == 0 {
		return primary
	}
	secondary := make([]llm.Provider, 0, len(compare))
	for _, pm := range compare {
		secondary = append(secondary, llm.NewClient(llm.ClientConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       pm[1],
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}))
	}
	return llm.NewComparator(primary, secondary)
}

func buildEmbedder(cfg *config.Config) embedding.Provider {
	timeout := 30 * time.Second
	var providers []embedding.Provider
	if cfg.Enrich.UseOpenAIEmbeddings && cfg.Enrich.OpenAIAPIKey != "" {
		providers = append(providers, embedding.NewOpenAIProvider("https://api.openai.com/v1", cfg.Enrich.OpenAIAPIKey, "", timeout))
	}
	if cfg.Enrich.UseGeminiEmbeddings && cfg.Enrich.GeminiAPIKey != "" {
		providers = append(providers, embedding.NewGeminiProvider("https://generativelanguage.googleapis.com/v1beta", cfg.Enrich.GeminiAPIKey, "", timeout))
	}
	if cfg.Enrich.LocalEmbeddingURL != "" {
		providers = append(providers, embedding.NewLocalProvider(cfg.Enrich.LocalEmbeddingURL, timeout))
	}
	if len(providers) == 0 {
		return nil
	}
	if len(providers) == 1 {
		return providers[0]
	}
	return embedding.NewFallback(providers...)
}

func buildFetchers(cfg *config.Config, llmProvider llm.Provider) []news.Fetcher {
	watched := append(append([]string{}, cfg.Quotes.TickersMedium...), cfg.Quotes.TickersFast...)

	fetchers := []news.Fetcher{
		news.NewRSSFetcher(news.CentralBankFeeds, 7*24*time.Hour),
	}
	if cfg.News.AggregatorAPIKey != "" {
		fetchers = append(fetchers, news.NewAggregatorFetcher(
			cfg.News.AggregatorURL, cfg.News.AggregatorAPIKey,
			watched, nil, cfg.News.AggregatorDailyQuota, cfg.News.FetchTimeout))
	}
	if cfg.News.EarningsAPIKey != "" {
		fetchers = append(fetchers, news.NewEarningsFetcher(
			cfg.News.EarningsEndpoint, cfg.News.EarningsAPIKey, watched, cfg.News.FetchTimeout))
	}
	if cfg.News.SentimentFeedAPIKey != "" {
		fetchers = append(fetchers, news.NewSentimentFeedFetcher(
			cfg.News.SentimentFeedURL, cfg.News.SentimentFeedAPIKey, watched, cfg.News.FetchTimeout))
	}
	if llmProvider != nil {
		cooldown := time.Duration(cfg.Enrich.LLMNewsCooldownHours) * time.Hour
		fetchers = append(fetchers, news.NewLLMNewsFetcher(llmProvider, watched, cooldown))
	}
	return fetchers
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, app *application) error {
	specs := scheduler.DefaultSpecs()
	allTickers := append(append(append([]string{},
		cfg.Quotes.TickersFast...), cfg.Quotes.TickersMedium...), cfg.Quotes.TickersLong...)

	jobs := []scheduler.Job{
		{Name: "update_prices", Specs: specs["update_prices"], Run: func(ctx context.Context) error {
			return app.quotes.Refresh(ctx, allTickers, 30)
		}},
		{Name: "fetch_news", Specs: specs["fetch_news"], Run: func(ctx context.Context) error {
			_, err := app.pipeline.Run(ctx)
			return err
		}},
		{Name: "outcome_analyze", Specs: specs["outcome_analyze"], Run: func(ctx context.Context) error {
			_, err := app.outcomes.AnalyzeRipeEvents(ctx, cfg.Enrich.OutcomeDaysAfter, 100)
			return err
		}},
		{Name: "trading_cycle", Specs: specs["trading_cycle"], Run: func(ctx context.Context) error {
			return app.runCycle(ctx, cfg.Quotes.TradingCycleTickers)
		}},
		{Name: "intraday_signal", Specs: specs["intraday_signal"], Run: func(ctx context.Context) error {
			return app.runCycle(ctx, cfg.Quotes.TickersFast)
		}},
	}
	if app.embeddings != nil {
		jobs = append(jobs, scheduler.Job{Name: "backfill_embeddings", Specs: specs["backfill_embeddings"], Run: func(ctx context.Context) error {
			_, err := app.embeddings.BackfillEmbeddings(ctx, 100)
			return err
		}})
	}
	if app.sentiment != nil {
		jobs = append(jobs, scheduler.Job{Name: "sentiment_enrich", Specs: specs["sentiment_enrich"], Run: func(ctx context.Context) error {
			_, err := app.sentiment.EnrichPending(ctx, 30, 50)
			return err
		}})
	}
	if cfg.Scheduler.PremarketAlert {
		jobs = append(jobs, scheduler.Job{Name: "premarket_cron", Specs: specs["premarket_cron"], Run: app.premarketSweep})
	}

	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// runCycle analyzes each ticker, executes buys immediately, and hands sells
// to the exit sweep so stop/target/timeout checks run in the same pass.
// New entries are suppressed in the last minutes of the regular session; the
// overnight gap risk outweighs whatever is left of the move.
func (app *application) runCycle(ctx context.Context, tickers []string) error {
	nearClose := app.oracle.NearClose(10 * time.Minute)

	sellSignals := make(map[string]bool)
	for _, ticker := range tickers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		decision, err := app.analyst.Analyze(ctx, ticker, app.cfg.Enrich.UseLLM)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Analysis failed, ticker skipped")
			continue
		}
		switch decision.Decision {
		case "STRONG_BUY", "BUY":
			if nearClose {
				log.Info().Str("ticker", ticker).Msg("Buy suppressed near the close")
				continue
			}
			if _, err := app.executor.Buy(ctx, ticker, decision.Decision, decision.Regime, 0, 0, &decision.WeightedSentiment); err != nil {
				log.Error().Err(err).Str("ticker", ticker).Msg("Buy failed")
			}
		case "SELL":
			sellSignals[ticker] = true
		}
	}
	_, err := app.executor.ApplyExitRules(ctx, sellSignals)
	return err
}

// premarketSweep alerts on notable gaps before the bell. It only fires in
// the final stretch of pre-market, when the gap is close to tradeable.
func (app *application) premarketSweep(ctx context.Context) error {
	if !app.oracle.NearOpen(90 * time.Minute) {
		return nil
	}
	for _, ticker := range app.cfg.Quotes.TradingCycleTickers {
		pc := app.oracle.Premarket(ctx, ticker)
		if pc.Err != nil {
			log.Warn().Err(pc.Err).Str("ticker", ticker).Msg("Premarket quote unavailable")
			continue
		}
		if pc.PremarketGapPct >= 2 || pc.PremarketGapPct <= -2 {
			app.notifier.NotifyPremarket(ctx, pc)
		}
	}
	return nil
}
