package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/metrics"
	"github.com/kobyzev-yuri/lse/internal/session"
)

type positionReader interface {
	Positions(ctx context.Context) ([]db.Position, error)
}

type tradeReader interface {
	Recent(ctx context.Context, ticker string, limit int) ([]db.Trade, error)
}

type phaseReader interface {
	Phase() session.Phase
}

// Verdict is the structured allow/deny result of a risk check.
type Verdict struct {
	Allow  bool
	Reason string
}

func deny(reason string) Verdict { return Verdict{Allow: false, Reason: reason} }

// Manager runs the pre-trade checks. All must pass before a BUY.
type Manager struct {
	limits    Limits
	positions positionReader
	trades    tradeReader
	session   phaseReader
	now       clock.Clock
	logger    zerolog.Logger
}

// NewManager creates a risk manager.
func NewManager(limits Limits, positions positionReader, trades tradeReader, oracle phaseReader, now clock.Clock) *Manager {
	if now == nil {
		now = clock.System
	}
	return &Manager{
		limits:    limits,
		positions: positions,
		trades:    trades,
		session:   oracle,
		now:       now,
		logger:    config.NewLogger("risk"),
	}
}

// Limits returns the active limit set.
func (m *Manager) Limits() Limits { return m.limits }

// CheckBuy runs all six checks for a proposed buy of positionSizeUSD in one
// ticker. The first failing check decides the verdict; no partial state is
// ever produced because the executor only acts on Allow.
func (m *Manager) CheckBuy(ctx context.Context, ticker string, positionSizeUSD float64) (Verdict, error) {
	pl := m.limits.PositionLimits
	capital := m.limits.RiskCapacity.TotalCapitalUSD

	// 1. Trade size bounds.
	maxSize := pl.MaxTradeSizeUSD
	if m.limits.RiskCapacity.MaxPositionSizeUSD > 0 && m.limits.RiskCapacity.MaxPositionSizeUSD < maxSize {
		maxSize = m.limits.RiskCapacity.MaxPositionSizeUSD
	}
	if positionSizeUSD < pl.MinTradeSizeUSD {
		return m.reject("size_below_min", fmt.Sprintf("position %.2f below minimum trade size %.2f", positionSizeUSD, pl.MinTradeSizeUSD)), nil
	}
	if positionSizeUSD > maxSize {
		return m.reject("size_above_max", fmt.Sprintf("position %.2f above maximum trade size %.2f", positionSizeUSD, maxSize)), nil
	}

	positions, err := m.positions.Positions(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to read positions: %w", err)
	}

	// 2. Portfolio exposure.
	var exposure, tickerExposure float64
	for _, p := range positions {
		v := p.Quantity * p.AvgEntryPrice
		exposure += v
		if p.Ticker == ticker {
			tickerExposure = v
		}
	}
	maxExposure := pl.MaxPortfolioExposurePct / 100 * capital
	if exposure+positionSizeUSD > maxExposure {
		return m.reject("portfolio_exposure", fmt.Sprintf("exposure %.2f + %.2f exceeds portfolio cap %.2f", exposure, positionSizeUSD, maxExposure)), nil
	}

	// 3. Single-ticker exposure.
	maxTicker := pl.MaxSingleTickerExposurePct / 100 * capital
	if tickerExposure+positionSizeUSD > maxTicker {
		return m.reject("ticker_exposure", fmt.Sprintf("%s exposure %.2f + %.2f exceeds ticker cap %.2f", ticker, tickerExposure, positionSizeUSD, maxTicker)), nil
	}

	// 4. Open position count.
	if tickerExposure == 0 && len(positions) >= pl.MaxPositionsOpen {
		return m.reject("max_positions", fmt.Sprintf("%d positions already open (limit %d)", len(positions), pl.MaxPositionsOpen)), nil
	}

	// 5. Trading hours.
	phase := m.session.Phase()
	switch phase {
	case session.PhaseRegular:
	case session.PhasePreMarket:
		if !m.limits.TradingHours.AllowPremarket {
			return m.reject("outside_hours", "pre-market trading not allowed"), nil
		}
	default:
		return m.reject("outside_hours", fmt.Sprintf("market is %s", phase)), nil
	}

	// 6. Daily loss limit (realized PnL of today's sells).
	loss, err := m.realizedLossToday(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if m.limits.RiskParameters.DailyLossLimitUSD > 0 && loss >= m.limits.RiskParameters.DailyLossLimitUSD {
		return m.reject("daily_loss", fmt.Sprintf("daily loss %.2f reached the %.2f limit", loss, m.limits.RiskParameters.DailyLossLimitUSD)), nil
	}
	if pct := m.limits.RiskParameters.DailyLossLimitPct; pct > 0 && loss >= pct/100*capital {
		return m.reject("daily_loss", fmt.Sprintf("daily loss %.2f reached %.1f%% of capital", loss, pct)), nil
	}

	return Verdict{Allow: true}, nil
}

func (m *Manager) reject(reason, detail string) Verdict {
	metrics.RiskRejections.WithLabelValues(reason).Inc()
	m.logger.Warn().Str("reason", reason).Str("detail", detail).Msg("Buy rejected")
	return deny(detail)
}

// realizedLossToday sums realized losses from today's SELL journal rows.
// Each SELL is paired with the latest earlier BUY of the same ticker to
// recover its cost basis; commissions on both legs count against the trade.
func (m *Manager) realizedLossToday(ctx context.Context) (float64, error) {
	trades, err := m.trades.Recent(ctx, "", 200)
	if err != nil {
		return 0, fmt.Errorf("failed to read trade journal: %w", err)
	}

	now := m.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var loss float64
	for i, t := range trades {
		if t.TS.Before(midnight) || t.Side != "SELL" {
			continue
		}
		for _, prev := range trades[i+1:] {
			if prev.Ticker != t.Ticker || prev.Side != "BUY" || prev.TS.After(t.TS) {
				continue
			}
			pnl := (t.Price-prev.Price)*t.Quantity - t.Commission - prev.Commission
			if pnl < 0 {
				loss += -pnl
			}
			break
		}
	}
	return loss, nil
}
