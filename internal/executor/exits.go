package executor

import (
	"context"
	"fmt"
)

const fastHoldTradingDays = 2

// regimeParams returns the stop and target percentages a strategy trades
// with. Unknown or neutral strategies carry no automatic price exits.
func regimeParams(strategyName string) (stopPct, targetPct float64) {
	switch strategyName {
	case "Momentum":
		return 3, 8
	case "MeanReversion":
		return 5, 4
	case "VolatileGap":
		return 7, 12
	}
	return 0, 0
}

// evaluateExit decides whether a position must close and why. Checks run in
// priority order: stop loss, take profit, hold timeout, fresh sell signal.
func evaluateExit(entryPrice, price, stopPct, targetPct float64, heldTradingDays int, fast, sellSignal bool) (string, bool) {
	if stopPct > 0 && price <= entryPrice*(1-stopPct/100) {
		return ExitStopLoss, true
	}
	if targetPct > 0 && price >= entryPrice*(1+targetPct/100) {
		return ExitTakeProfit, true
	}
	if fast && heldTradingDays > fastHoldTradingDays {
		return ExitTimeout, true
	}
	if sellSignal {
		return ExitSignal, true
	}
	return "", false
}

// ApplyExitRules sweeps every open position and sells the ones whose exit
// condition fired. sellSignals carries tickers with a fresh SELL decision
// from the current analysis pass. Per-position failures are logged and do
// not stop the sweep.
func (e *Executor) ApplyExitRules(ctx context.Context, sellSignals map[string]bool) (int, error) {
	positions, err := e.portfolio.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list positions: %w", err)
	}

	closed := 0
	for _, pos := range positions {
		quote, err := e.quotes.LatestAsOf(ctx, pos.Ticker, e.now())
		if err != nil || quote == nil {
			e.logger.Warn().Err(err).Str("ticker", pos.Ticker).Msg("No price for exit check")
			continue
		}

		lastBuy, err := e.trades.LastBuyForTicker(ctx, pos.Ticker)
		if err != nil {
			e.logger.Warn().Err(err).Str("ticker", pos.Ticker).Msg("No buy record for exit check")
			continue
		}

		var strategyName string
		heldDays := 0
		if lastBuy != nil {
			strategyName = lastBuy.StrategyName
			if e.calendar != nil {
				heldDays = e.calendar.TradingDaysBetween(lastBuy.TS, e.now())
			}
		}
		stopPct, targetPct := regimeParams(strategyName)

		reason, exit := evaluateExit(
			pos.AvgEntryPrice, quote.Close, stopPct, targetPct,
			heldDays, e.fastTickers[pos.Ticker], sellSignals[pos.Ticker],
		)
		if !exit {
			continue
		}

		res, err := e.Sell(ctx, pos.Ticker, reason, strategyName, 0, nil)
		if err != nil {
			e.logger.Error().Err(err).Str("ticker", pos.Ticker).Str("exit", reason).Msg("Exit sell failed")
			continue
		}
		if res.Executed {
			closed++
		}
	}
	return closed, nil
}
