// Package scheduler runs the named background jobs on cron specs. Jobs never
// overlap themselves: a tick arriving while the previous run is still going
// is skipped and logged.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// Job is one named schedule entry. A job may fire on several specs, all
// sharing the same non-overlap guard.
type Job struct {
	Name  string
	Specs []string
	Run   func(ctx context.Context) error
}

// DefaultSpecs is the standing job table. Callers attach Run functions to
// the names they serve and drop the ones they cannot.
func DefaultSpecs() map[string][]string {
	return map[string][]string{
		"update_prices":       {"0 22 * * *", "0 10,12,14,16,18 * * 1-5"},
		"fetch_news":          {"0 * * * *"},
		"backfill_embeddings": {"10 * * * *"},
		"sentiment_enrich":    {"20 * * * *"},
		"outcome_analyze":     {"0 4 * * *"},
		"trading_cycle":       {"0 9,13,17 * * 1-5"},
		"intraday_signal":     {"*/5 * * * 1-5"},
		"premarket_cron":      {"30 16 * * 1-5"},
	}
}

// Scheduler owns the cron runner and the per-job in-flight flags.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New creates a stopped scheduler bound to the parent context. Jobs receive
// a context cancelled on Stop so they can finish their current transaction
// and bail.
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		logger: config.NewLogger("scheduler"),
	}
}

// Add registers a job on all its specs.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	if len(job.Specs) == 0 {
		return fmt.Errorf("job %s has no schedule", job.Name)
	}

	flag := &atomic.Bool{}
	run := guarded(job.Name, flag, job.Run, s.logger)
	for _, spec := range job.Specs {
		if _, err := s.cron.AddFunc(spec, func() { run(s.ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s on %q: %w", job.Name, spec, err)
		}
	}
	s.logger.Info().Str("job", job.Name).Strs("specs", job.Specs).Msg("Job scheduled")
	return nil
}

// Start begins firing ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the job context and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// guarded wraps a job body with the skip-if-running flag and run metrics.
func guarded(name string, flag *atomic.Bool, run func(ctx context.Context) error, logger zerolog.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		if !flag.CompareAndSwap(false, true) {
			metrics.JobSkips.WithLabelValues(name).Inc()
			logger.Warn().Str("job", name).Msg("Previous run still in flight, tick skipped")
			return
		}
		defer flag.Store(false)

		start := time.Now()
		err := run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			metrics.JobRuns.WithLabelValues(name, "error").Inc()
			logger.Error().Err(err).Str("job", name).Dur("elapsed", elapsed).Msg("Job failed")
			return
		}
		metrics.JobRuns.WithLabelValues(name, "ok").Inc()
		logger.Info().Str("job", name).Dur("elapsed", elapsed).Msg("Job completed")
	}
}
