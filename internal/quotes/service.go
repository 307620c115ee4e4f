package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/market"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// historyDepth is how many bars feed an indicator recompute. Deep enough for
// the 20-day volatility baseline plus the RSI warm-up.
const historyDepth = 120

// Service ingests bars from the quote provider and maintains indicators.
type Service struct {
	store       *db.QuoteStore
	provider    market.QuoteProvider
	rsiProvider market.RSIProvider // optional
	now         clock.Clock
	logger      zerolog.Logger
}

// NewService creates a quote service. rsiProvider may be nil; now may be nil
// for the system clock, or a rewound clock during replay runs.
func NewService(store *db.QuoteStore, provider market.QuoteProvider, rsiProvider market.RSIProvider, now clock.Clock) *Service {
	if now == nil {
		now = clock.System
	}
	return &Service{
		store:       store,
		provider:    provider,
		rsiProvider: rsiProvider,
		now:         now,
		logger:      config.NewLogger("quotes"),
	}
}

// UpsertBars writes bars for a ticker and recomputes indicators for the
// affected range. Bars must be complete; nothing partial is written.
func (s *Service) UpsertBars(ctx context.Context, ticker string, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	earliest := bars[0].Date
	for _, b := range bars {
		if b.Date.Before(earliest) {
			earliest = b.Date
		}
		q := db.Quote{Date: b.Date, Ticker: ticker, Close: b.Close, Volume: b.Volume}
		if err := s.store.UpsertBar(ctx, q); err != nil {
			return err
		}
	}
	return s.RecomputeIndicators(ctx, ticker, &earliest)
}

// RecomputeIndicators rebuilds sma_5, volatility_5 and rsi for a ticker.
// When from is non-nil only rows at or after that date are rewritten, but
// the computation always runs over the full recent history so windows that
// straddle the boundary stay correct.
func (s *Service) RecomputeIndicators(ctx context.Context, ticker string, from *time.Time) error {
	history, err := s.store.History(ctx, ticker, historyDepth)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	closes := make([]float64, len(history))
	for i, q := range history {
		closes[i] = q.Close
	}
	rows := ComputeIndicators(closes)

	for i, q := range history {
		if from != nil && q.Date.Before(*from) {
			continue
		}
		r := rows[i]
		if err := s.store.UpdateIndicators(ctx, q.Date, ticker, r.SMA5, r.Volatility5, r.RSI); err != nil {
			return err
		}
	}

	s.logger.Debug().Str("ticker", ticker).Int("rows", len(history)).Msg("Indicators recomputed")
	return nil
}

// Refresh pulls the last `days` of bars for each ticker and updates
// indicators. A provider failure for one ticker is logged and does not stop
// the others; the first error is reported after all tickers ran.
func (s *Service) Refresh(ctx context.Context, tickers []string, days int) error {
	if days <= 0 {
		days = 30
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	var firstErr error
	for _, raw := range tickers {
		ticker := market.Normalize(raw)

		bars, err := s.provider.GetBars(ctx, ticker, from, to)
		if err != nil {
			s.logger.Error().Err(err).Str("ticker", ticker).Msg("Quote provider failed")
			metrics.QuoteFetchErrors.Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to refresh %s: %w", ticker, err)
			}
			continue
		}
		if err := s.UpsertBars(ctx, ticker, bars); err != nil {
			s.logger.Error().Err(err).Str("ticker", ticker).Msg("Failed to store bars")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.QuoteBarsIngested.Add(float64(len(bars)))

		if s.rsiProvider != nil {
			s.importRSI(ctx, ticker)
		}
	}
	return firstErr
}

// importRSI overwrites the latest row's RSI with the provider value.
// Imported values win over the local computation when available. Only stock
// symbols are asked for: the RSI feed does not quote FX, futures or indexes.
func (s *Service) importRSI(ctx context.Context, ticker string) {
	if market.Classify(ticker) != market.ClassStock {
		return
	}
	rsi, err := s.rsiProvider.GetRSI(ctx, ticker)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticker", ticker).Msg("External RSI unavailable")
		return
	}
	latest, err := s.store.Latest(ctx, ticker)
	if err != nil || latest == nil {
		return
	}
	if err := s.store.UpdateRSI(ctx, latest.Date, ticker, rsi); err != nil {
		s.logger.Warn().Err(err).Str("ticker", ticker).Msg("Failed to store imported RSI")
	}
}

// MarketState is the technical snapshot the strategy selector consumes.
type MarketState struct {
	Ticker          string
	Close           float64
	SMA5            *float64
	Volatility5     *float64
	RSI             *float64
	AvgVolatility20 *float64
	BarCount        int
}

// State assembles the latest technical snapshot for a ticker from at most
// the last `bars` rows (default 20). Reads are capped at the service clock,
// so a rewound clock replays the snapshot as it stood then.
func (s *Service) State(ctx context.Context, ticker string, bars int) (*MarketState, error) {
	if bars <= 0 {
		bars = 20
	}
	history, err := s.store.HistoryAsOf(ctx, ticker, s.now(), bars)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}

	latest := history[len(history)-1]
	vols := make([]*float64, len(history))
	for i, q := range history {
		vols[i] = q.Volatility5
	}

	return &MarketState{
		Ticker:          ticker,
		Close:           latest.Close,
		SMA5:            latest.SMA5,
		Volatility5:     latest.Volatility5,
		RSI:             latest.RSI,
		AvgVolatility20: AvgVolatility20(vols),
		BarCount:        len(history),
	}, nil
}
