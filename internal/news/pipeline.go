package news

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// DefaultWorkers bounds how many fetchers run at once.
const DefaultWorkers = 4

// Summary reports one pipeline run: inserted/duplicate counts per source
// and the errors of fetchers that failed.
type Summary struct {
	BatchID    string
	Inserted   map[string]int
	Duplicates map[string]int
	Errors     []string
}

// EventSink receives fetched events for deduplicated storage.
type EventSink interface {
	Insert(ctx context.Context, e db.Event) (int64, bool, error)
}

// Pipeline fans fetchers out over a bounded worker pool and funnels all
// results through a single inserter goroutine that owns the writes.
type Pipeline struct {
	fetchers []Fetcher
	kb       EventSink
	workers  int64
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewPipeline creates the pipeline. workers <= 0 defaults to 4; timeout is
// the per-fetcher deadline, defaulting to 2 minutes.
func NewPipeline(kbService EventSink, fetchers []Fetcher, workers int, timeout time.Duration) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Pipeline{
		fetchers: fetchers,
		kb:       kbService,
		workers:  int64(workers),
		timeout:  timeout,
		logger:   config.NewLogger("news-pipeline"),
	}
}

type fetchResult struct {
	source string
	events []db.Event
	err    error
}

// Run executes all fetchers and inserts their output. A fetcher failure is
// recorded in the summary and never blocks the others; inserts are
// deduplicated so overlapping windows and retries are safe.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	batchID := uuid.NewString()
	summary := &Summary{
		BatchID:    batchID,
		Inserted:   make(map[string]int),
		Duplicates: make(map[string]int),
	}

	sem := semaphore.NewWeighted(p.workers)
	results := make(chan fetchResult, len(p.fetchers))

	var wg sync.WaitGroup
	for _, f := range p.fetchers {
		wg.Add(1)
		go func(f Fetcher) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- fetchResult{source: f.Name(), err: err}
				return
			}
			defer sem.Release(1)

			fctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			events, err := f.Fetch(fctx)
			results <- fetchResult{source: f.Name(), events: events, err: err}
		}(f)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single inserter: all writes happen here, keeping contention low.
	for res := range results {
		if res.err != nil {
			p.logger.Error().Err(res.err).
				Str("batch", batchID).
				Str("source", res.source).
				Msg("Fetcher failed")
			metrics.NewsFetchErrors.WithLabelValues(res.source).Inc()
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", res.source, res.err))
		}
		for _, e := range res.events {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			_, created, err := p.kb.Insert(ctx, e)
			if err != nil {
				p.logger.Error().Err(err).Str("source", e.Source).Msg("Insert failed")
				summary.Errors = append(summary.Errors, fmt.Sprintf("insert %s: %v", e.Source, err))
				continue
			}
			if created {
				summary.Inserted[e.Source]++
			} else {
				summary.Duplicates[e.Source]++
			}
		}
	}

	p.logger.Info().
		Str("batch", batchID).
		Int("sources", len(p.fetchers)).
		Int("errors", len(summary.Errors)).
		Interface("inserted", summary.Inserted).
		Msg("News pipeline run complete")

	return summary, nil
}
