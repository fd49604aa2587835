package strategy

import (
	"context"
	"fmt"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
	"btcQuant/internal/strategy/indicators"
)

// minVotes is how many of the four indicator votes a side needs to win.
const minVotes = 3

// Strategy turns a dataset into an indicator-annotated snapshot and a regime signal.
type Strategy struct {
	set    *indicators.Set
	logger ports.Logger
}

// New creates a new Strategy instance. A nil set uses indicators.DefaultSet.
func New(set *indicators.Set, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if set == nil {
		set = indicators.DefaultSet()
	}
	return &Strategy{set: set, logger: logger}, nil
}

// RequiredDataPoints returns the candle count after which every indicator is defined.
func (s *Strategy) RequiredDataPoints() int {
	return s.set.RequiredDataPoints()
}

// RSIZone labels the RSI value of row using the configured thresholds.
func (s *Strategy) RSIZone(row domain.IndicatorRow) string {
	return s.set.RSI.Zone(row.RSI)
}

// Evaluate computes indicators for ds and classifies its newest row.
// The dataset is shared with the snapshot, not copied.
func (s *Strategy) Evaluate(ctx context.Context, ds *domain.Dataset, now time.Time) (*domain.Snapshot, error) {
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate %s %s: %w", ds.Symbol, ds.Timeframe, err)
	}

	if need := s.RequiredDataPoints(); ds.Len() < need {
		s.logger.Debug(ctx, "Not enough candles for every indicator", ports.Fields{
			"available": ds.Len(), "required": need,
		})
	}

	rows := s.set.Compute(ds.Candles)
	signal := Classify(rows[len(rows)-1])

	s.logger.Debug(ctx, "Snapshot evaluated", ports.Fields{
		"symbol":    ds.Symbol,
		"timeframe": ds.Timeframe,
		"candles":   ds.Len(),
		"signal":    string(signal),
	})

	return &domain.Snapshot{
		Dataset:    ds,
		Indicators: rows,
		Signal:     signal,
		UpdatedAt:  now,
	}, nil
}

// Classify votes on four trend measures: SMA50 vs SMA200, EMA50 vs EMA200,
// RSI vs 50 and MACD vs its signal line. A side needs at least three votes and
// more votes than the other side; anything else is Neutral. Undefined (NaN)
// values vote for neither side.
func Classify(row domain.IndicatorRow) domain.Signal {
	var bull, bear int
	vote := func(up, down bool) {
		if up {
			bull++
		}
		if down {
			bear++
		}
	}
	vote(row.SMA50 > row.SMA200, row.SMA50 < row.SMA200)
	vote(row.EMA50 > row.EMA200, row.EMA50 < row.EMA200)
	vote(row.RSI > 50, row.RSI < 50)
	vote(row.MACD > row.MACDSignal, row.MACD < row.MACDSignal)

	switch {
	case bull >= minVotes && bull > bear:
		return domain.SignalBullish
	case bear >= minVotes && bear > bull:
		return domain.SignalBearish
	default:
		return domain.SignalNeutral
	}
}
