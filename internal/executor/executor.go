// Package executor turns approved decisions into portfolio mutations. Every
// operation runs in one database transaction holding row locks on the ticker
// and CASH rows, so a crash mid-decision leaves the portfolio untouched.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/metrics"
	"github.com/kobyzev-yuri/lse/internal/risk"
)

// Exit reasons recorded as the SELL signal type.
const (
	ExitStopLoss   = "STOP_LOSS"
	ExitTakeProfit = "TAKE_PROFIT"
	ExitTimeout    = "TIMEOUT"
	ExitSignal     = "SIGNAL"
)

type riskChecker interface {
	CheckBuy(ctx context.Context, ticker string, positionSizeUSD float64) (risk.Verdict, error)
	Limits() risk.Limits
}

// quoteReader prices trades as of the executor clock, so replay runs never
// price off bars the clock has not reached yet.
type quoteReader interface {
	LatestAsOf(ctx context.Context, ticker string, asOf time.Time) (*db.Quote, error)
}

type tradingCalendar interface {
	TradingDaysBetween(from, to time.Time) int
}

// Notifier receives executed trades for alerting. May be nil.
type Notifier interface {
	NotifyTrade(ctx context.Context, t db.Trade)
}

// Result reports what one Buy or Sell call did. Reason is set when the
// trade was rejected rather than failed.
type Result struct {
	Executed  bool
	Reason    string
	Trade     *db.Trade
	CashAfter float64
}

// Executor mutates the paper portfolio.
type Executor struct {
	db        *db.DB
	portfolio *db.PortfolioStore
	trades    *db.TradeStore
	quotes    quoteReader
	risk      riskChecker
	calendar  tradingCalendar
	notifier  Notifier

	fastTickers     map[string]bool
	slippageSellPct float64
	now             clock.Clock
	logger          zerolog.Logger
}

// Config wires the executor.
type Config struct {
	DB              *db.DB
	Portfolio       *db.PortfolioStore
	Trades          *db.TradeStore
	Quotes          quoteReader
	Risk            riskChecker
	Calendar        tradingCalendar
	Notifier        Notifier
	FastTickers     []string
	SlippageSellPct float64
	Now             clock.Clock
}

// New creates an executor.
func New(cfg Config) *Executor {
	fast := make(map[string]bool, len(cfg.FastTickers))
	for _, t := range cfg.FastTickers {
		fast[t] = true
	}
	now := cfg.Now
	if now == nil {
		now = clock.System
	}
	return &Executor{
		db:              cfg.DB,
		portfolio:       cfg.Portfolio,
		trades:          cfg.Trades,
		quotes:          cfg.Quotes,
		risk:            cfg.Risk,
		calendar:        cfg.Calendar,
		notifier:        cfg.Notifier,
		fastTickers:     fast,
		slippageSellPct: cfg.SlippageSellPct,
		now:             now,
		logger:          config.NewLogger("executor"),
	}
}

// signalWeight maps the decision signal to a sizing weight.
func signalWeight(signal string) float64 {
	switch signal {
	case "STRONG_BUY":
		return 1.0
	case "BUY":
		return 0.5
	}
	return 0
}

// sizeQuantity is the default sizing rule: whole units of the per-position
// capital slice scaled by the signal weight.
func sizeQuantity(capitalUSD, weight, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Floor(capitalUSD * weight / price)
}

// weightedAvgEntry recomputes the average entry price after adding to a
// position.
func weightedAvgEntry(oldQty, oldAvg, addQty, addPrice float64) float64 {
	total := oldQty + addQty
	if total <= 0 {
		return addPrice
	}
	return (oldQty*oldAvg + addQty*addPrice) / total
}

// Buy opens or adds to a position. Quantity and price are optional: zero
// quantity applies the sizing rule, zero price uses the latest close.
func (e *Executor) Buy(ctx context.Context, ticker, signal, strategyName string, quantity, price float64, sentiment *float64) (*Result, error) {
	weight := signalWeight(signal)
	if weight == 0 && quantity == 0 {
		return &Result{Reason: fmt.Sprintf("signal %s does not size a buy", signal)}, nil
	}

	if price == 0 {
		q, err := e.quotes.LatestAsOf(ctx, ticker, e.now())
		if err != nil {
			return nil, fmt.Errorf("failed to price buy for %s: %w", ticker, err)
		}
		if q == nil {
			return &Result{Reason: "no quote available"}, nil
		}
		price = q.Close
	}
	if quantity == 0 {
		quantity = sizeQuantity(e.risk.Limits().RiskCapacity.MaxPositionSizeUSD, weight, price)
	}
	if quantity <= 0 {
		return &Result{Reason: "position size rounds to zero units"}, nil
	}

	sizeUSD := quantity * price
	verdict, err := e.risk.CheckBuy(ctx, ticker, sizeUSD)
	if err != nil {
		return nil, err
	}
	if !verdict.Allow {
		return &Result{Reason: verdict.Reason}, nil
	}

	commission := sizeUSD * e.risk.Limits().RiskParameters.CommissionRate
	total := sizeUSD + commission

	var res Result
	err = e.inTx(ctx, func(tx pgx.Tx) error {
		pos, err := e.portfolio.PositionForUpdate(ctx, tx, ticker)
		if err != nil {
			return err
		}
		cash, err := e.portfolio.PositionForUpdate(ctx, tx, db.CashTicker)
		if err != nil {
			return err
		}
		if cash == nil {
			return fmt.Errorf("cash row missing, run migrations first")
		}
		if cash.Quantity < total {
			res.Reason = fmt.Sprintf("insufficient cash: %.2f available, %.2f required", cash.Quantity, total)
			return nil
		}

		var oldQty, oldAvg float64
		if pos != nil {
			oldQty, oldAvg = pos.Quantity, pos.AvgEntryPrice
		}
		newQty := oldQty + quantity
		newAvg := weightedAvgEntry(oldQty, oldAvg, quantity, price)

		if err := e.portfolio.Upsert(ctx, tx, ticker, newQty, newAvg); err != nil {
			return err
		}
		if err := e.portfolio.Upsert(ctx, tx, db.CashTicker, cash.Quantity-total, 1); err != nil {
			return err
		}

		trade := db.Trade{
			TS: e.now(), Ticker: ticker, Side: "BUY",
			Quantity: quantity, Price: price, Commission: commission,
			SignalType: signal, StrategyName: strategyName,
			TotalValue: total, SentimentAtTrade: sentiment,
		}
		id, err := e.trades.Insert(ctx, tx, trade)
		if err != nil {
			return err
		}
		trade.ID = id
		res = Result{Executed: true, Trade: &trade, CashAfter: cash.Quantity - total}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Executed {
		metrics.TradesExecuted.WithLabelValues("BUY", signal).Inc()
		e.logger.Info().Str("ticker", ticker).Str("signal", signal).
			Float64("quantity", quantity).Float64("price", price).
			Float64("cash_after", res.CashAfter).Msg("Buy executed")
		if e.notifier != nil {
			e.notifier.NotifyTrade(ctx, *res.Trade)
		}
	} else {
		e.logger.Info().Str("ticker", ticker).Str("reason", res.Reason).Msg("Buy rejected")
	}
	return &res, nil
}

// Sell closes the full position. The exit reason becomes the journal signal
// type. Zero price uses the latest close, with the configured sandbox
// slippage applied.
func (e *Executor) Sell(ctx context.Context, ticker, exitReason, strategyName string, price float64, sentiment *float64) (*Result, error) {
	if price == 0 {
		q, err := e.quotes.LatestAsOf(ctx, ticker, e.now())
		if err != nil {
			return nil, fmt.Errorf("failed to price sell for %s: %w", ticker, err)
		}
		if q == nil {
			return &Result{Reason: "no quote available"}, nil
		}
		price = applySlippage(q.Close, e.slippageSellPct)
	}

	commissionRate := e.risk.Limits().RiskParameters.CommissionRate

	var res Result
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		pos, err := e.portfolio.PositionForUpdate(ctx, tx, ticker)
		if err != nil {
			return err
		}
		if pos == nil || pos.Quantity <= 0 {
			res.Reason = fmt.Sprintf("no open position in %s", ticker)
			return nil
		}
		cash, err := e.portfolio.PositionForUpdate(ctx, tx, db.CashTicker)
		if err != nil {
			return err
		}
		if cash == nil {
			return fmt.Errorf("cash row missing, run migrations first")
		}

		proceeds := pos.Quantity * price
		commission := proceeds * commissionRate
		net := proceeds - commission

		if err := e.portfolio.Delete(ctx, tx, ticker); err != nil {
			return err
		}
		if err := e.portfolio.Upsert(ctx, tx, db.CashTicker, cash.Quantity+net, 1); err != nil {
			return err
		}

		trade := db.Trade{
			TS: e.now(), Ticker: ticker, Side: "SELL",
			Quantity: pos.Quantity, Price: price, Commission: commission,
			SignalType: exitReason, StrategyName: strategyName,
			TotalValue: net, SentimentAtTrade: sentiment,
		}
		id, err := e.trades.Insert(ctx, tx, trade)
		if err != nil {
			return err
		}
		trade.ID = id
		res = Result{Executed: true, Trade: &trade, CashAfter: cash.Quantity + net}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Executed {
		metrics.TradesExecuted.WithLabelValues("SELL", exitReason).Inc()
		e.logger.Info().Str("ticker", ticker).Str("exit", exitReason).
			Float64("quantity", res.Trade.Quantity).Float64("price", price).
			Float64("cash_after", res.CashAfter).Msg("Sell executed")
		if e.notifier != nil {
			e.notifier.NotifyTrade(ctx, *res.Trade)
		}
	} else {
		e.logger.Info().Str("ticker", ticker).Str("reason", res.Reason).Msg("Sell skipped")
	}
	return &res, nil
}

func (e *Executor) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := e.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func applySlippage(price, sellPct float64) float64 {
	if sellPct <= 0 {
		return price
	}
	return price * (1 - sellPct/100)
}
