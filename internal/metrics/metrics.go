// Package metrics exposes Prometheus instrumentation. Enrichment and
// ingestion failures never reach the decision path, so counters and logs are
// the only place they surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuoteBarsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_quote_bars_ingested_total",
		Help: "Daily bars written to the quote store",
	})
	QuoteFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_quote_fetch_errors_total",
		Help: "Quote provider failures",
	})

	NewsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_news_inserted_total",
		Help: "Knowledge-base entries created, by source",
	}, []string{"source"})
	NewsDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_news_duplicates_total",
		Help: "Ingested items dropped by deduplication, by source",
	}, []string{"source"})
	NewsFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_news_fetch_errors_total",
		Help: "Fetcher failures, by source",
	}, []string{"source"})

	SentimentEnriched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_sentiment_enriched_total",
		Help: "Entries that received a sentiment score",
	})
	SentimentErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_sentiment_errors_total",
		Help: "Sentiment enrichment failures",
	})

	EmbeddingsBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_embeddings_backfilled_total",
		Help: "Entries that received an embedding vector",
	})
	EmbeddingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_embedding_errors_total",
		Help: "Embedding provider failures",
	})

	OutcomesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lse_outcomes_analyzed_total",
		Help: "Events with a computed price outcome",
	})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_llm_requests_total",
		Help: "LLM generate calls, by model and result",
	}, []string{"model", "result"})

	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_trades_executed_total",
		Help: "Executed paper trades, by side and signal",
	}, []string{"side", "signal"})
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_risk_rejections_total",
		Help: "Orders vetoed by the risk manager, by reason",
	}, []string{"reason"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_scheduler_job_runs_total",
		Help: "Scheduler job executions, by job and result",
	}, []string{"job", "result"})
	JobSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lse_scheduler_job_skips_total",
		Help: "Scheduler ticks skipped because the previous run was still active",
	}, []string{"job"})
)
