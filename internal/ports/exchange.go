package ports

import (
	"context"

	"btcQuant/internal/domain"
)

// MarketDataClient is the exchange capability the refresher depends on.
// Implementations translate transport and API failures into ErrExchangeUnavailable,
// ErrRateLimited (optionally as *RateLimitError) or ErrInvalidRequest.
type MarketDataClient interface {
	// Name returns the exchange identifier (e.g. "kraken").
	Name() string

	// SupportsTimeframe reports whether the exchange serves candles for timeframe.
	SupportsTimeframe(timeframe string) bool

	// ResolveSymbol validates symbol against the exchange's listings and returns
	// the form the exchange accepts. BTC and XBT bases are treated as aliases.
	ResolveSymbol(ctx context.Context, symbol string) (string, error)

	// FetchOHLCV returns up to limit of the most recent candles for symbol/timeframe.
	// Ordering of the returned slice is not guaranteed.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
}
