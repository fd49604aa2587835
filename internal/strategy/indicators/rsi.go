package indicators

import "math"

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSI implements the Relative Strength Index indicator
type RSI struct {
	BaseIndicator
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) *RSI {
	return &RSI{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is period+1: the first candle has no price change.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Series computes RSI using Wilder's smoothing.
func (r *RSI) Series(closes []float64) []float64 {
	return RSISeries(closes, r.Config.Period)
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSI) IsOverbought(value float64) bool {
	return value >= r.config.Overbought
}

// IsOversold checks if the RSI value indicates an oversold condition
func (r *RSI) IsOversold(value float64) bool {
	return value <= r.config.Oversold
}

// Zone labels an RSI reading as "overbought", "oversold" or "neutral".
// NaN readings have no zone.
func (r *RSI) Zone(value float64) string {
	switch {
	case math.IsNaN(value):
		return ""
	case r.IsOverbought(value):
		return "overbought"
	case r.IsOversold(value):
		return "oversold"
	default:
		return "neutral"
	}
}

// RSISeries computes RSI with Wilder smoothing (alpha = 1/period), seeded with
// the first price change. Entries before period changes are NaN. A zero average
// loss yields 100 and a zero average gain yields 0; a flat series is 0.
func RSISeries(closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n == 0 {
		return nanSlice(n)
	}
	gains := nanSlice(n)
	losses := nanSlice(n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		gains[i] = math.Max(d, 0)
		losses[i] = math.Max(-d, 0)
	}
	alpha := 1.0 / float64(period)
	avgGain := ewm(gains, alpha, period)
	avgLoss := ewm(losses, alpha, period)

	out := nanSlice(n)
	for i := range out {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		switch {
		case g == 0:
			out[i] = 0
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}
