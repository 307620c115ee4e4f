// Package risk enforces the position, exposure and loss limits gating every
// buy. Limits come from a JSON file; a conservative default set applies when
// the file is absent.
package risk

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Limits is the file-backed risk configuration.
type Limits struct {
	RiskCapacity   RiskCapacity   `json:"risk_capacity"`
	PositionLimits PositionLimits `json:"position_limits"`
	RiskParameters RiskParameters `json:"risk_parameters"`
	TradingHours   TradingHours   `json:"trading_hours"`
}

// RiskCapacity sets the capital base.
type RiskCapacity struct {
	TotalCapitalUSD    float64 `json:"total_capital_usd"`
	MaxPositionSizeUSD float64 `json:"max_position_size_usd"`
}

// PositionLimits bounds individual and aggregate positions.
type PositionLimits struct {
	MaxPositionsOpen           int     `json:"max_positions_open"`
	MaxPortfolioExposurePct    float64 `json:"max_portfolio_exposure_pct"`
	MaxSingleTickerExposurePct float64 `json:"max_single_ticker_exposure_pct"`
	MinTradeSizeUSD            float64 `json:"min_trade_size_usd"`
	MaxTradeSizeUSD            float64 `json:"max_trade_size_usd"`
}

// RiskParameters holds loss limits and trading costs.
type RiskParameters struct {
	DailyLossLimitUSD float64 `json:"daily_loss_limit_usd"`
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"`
	CommissionRate    float64 `json:"commission_rate"`
}

// TradingHours restricts when buys may execute.
type TradingHours struct {
	AllowPremarket bool `json:"allow_premarket"`
}

// DefaultLimits is the conservative fallback used when no file is present.
func DefaultLimits() Limits {
	return Limits{
		RiskCapacity: RiskCapacity{
			TotalCapitalUSD:    100000,
			MaxPositionSizeUSD: 10000,
		},
		PositionLimits: PositionLimits{
			MaxPositionsOpen:           5,
			MaxPortfolioExposurePct:    50,
			MaxSingleTickerExposurePct: 15,
			MinTradeSizeUSD:            100,
			MaxTradeSizeUSD:            10000,
		},
		RiskParameters: RiskParameters{
			DailyLossLimitUSD: 2000,
			DailyLossLimitPct: 2,
			CommissionRate:    0.001,
		},
		TradingHours: TradingHours{AllowPremarket: false},
	}
}

// LoadLimits reads the limits file, falling back to defaults when it does
// not exist. A present but malformed file is a configuration error.
func LoadLimits(path string) (Limits, error) {
	if path == "" {
		return DefaultLimits(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Risk limits file not found, using conservative defaults")
			return DefaultLimits(), nil
		}
		return Limits{}, fmt.Errorf("failed to read risk limits: %w", err)
	}

	limits := DefaultLimits()
	if err := json.Unmarshal(raw, &limits); err != nil {
		return Limits{}, fmt.Errorf("failed to parse risk limits: %w", err)
	}
	if err := limits.Validate(); err != nil {
		return Limits{}, err
	}
	return limits, nil
}

// Validate rejects limit combinations that would make every trade fail or
// disable the guards entirely.
func (l Limits) Validate() error {
	if l.RiskCapacity.TotalCapitalUSD <= 0 {
		return fmt.Errorf("total_capital_usd must be positive")
	}
	if l.PositionLimits.MinTradeSizeUSD > l.PositionLimits.MaxTradeSizeUSD {
		return fmt.Errorf("min_trade_size_usd %.2f exceeds max_trade_size_usd %.2f",
			l.PositionLimits.MinTradeSizeUSD, l.PositionLimits.MaxTradeSizeUSD)
	}
	if l.PositionLimits.MaxPositionsOpen <= 0 {
		return fmt.Errorf("max_positions_open must be positive")
	}
	return nil
}
