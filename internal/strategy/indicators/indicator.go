package indicators

import (
	"math"

	"btcQuant/internal/domain"
)

// Indicator represents a technical indicator computed over close prices.
type Indicator interface {
	// Series returns one value per input, NaN where the indicator is undefined.
	Series(closes []float64) []float64

	// RequiredDataPoints returns the minimum number of candles for a defined latest value.
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of candles needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

func closesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
