// Package market defines the pluggable quote capabilities and their HTTP
// implementations.
package market

import (
	"context"
	"strings"
	"time"
)

// Bar is one daily bar from a quote provider.
type Bar struct {
	Date   time.Time
	Close  float64
	Volume int64
}

// PremarketQuote is an off-hours snapshot for one symbol.
type PremarketQuote struct {
	Last      float64
	PrevClose float64
	TS        time.Time
}

// QuoteProvider fetches daily bars and off-hours quotes. Symbols follow the
// de-facto feed convention: plain for stocks, XXXYYY=X for FX pairs, =F
// suffix for futures, -USD for crypto, ^NAME for indexes.
type QuoteProvider interface {
	Name() string
	GetBars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error)
	GetPremarket(ctx context.Context, ticker string) (*PremarketQuote, error)
}

// RSIProvider supplies externally computed RSI values for instruments where
// the feed's RSI is preferred over the local Wilder computation.
type RSIProvider interface {
	GetRSI(ctx context.Context, ticker string) (float64, error)
}

// Instrument classes derived from the symbol convention.
const (
	ClassStock   = "STOCK"
	ClassFX      = "FX"
	ClassFutures = "FUTURES"
	ClassCrypto  = "CRYPTO"
	ClassIndex   = "INDEX"
)

// Classify maps a provider-convention symbol to its instrument class.
func Classify(symbol string) string {
	switch {
	case strings.HasPrefix(symbol, "^"):
		return ClassIndex
	case strings.HasSuffix(symbol, "=X"):
		return ClassFX
	case strings.HasSuffix(symbol, "=F"):
		return ClassFutures
	case strings.HasSuffix(symbol, "-USD"):
		return ClassCrypto
	default:
		return ClassStock
	}
}

// Normalize uppercases and trims a symbol as stored in config lists.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
