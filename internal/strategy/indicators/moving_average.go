package indicators

import (
	"math"
	"strconv"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator, e.g. "SMA50".
func (m *MovingAverage) Name() string {
	return string(m.config.Type) + strconv.Itoa(m.Config.Period)
}

// RequiredDataPoints: the EMA is defined from the first candle.
func (m *MovingAverage) RequiredDataPoints() int {
	if m.config.Type == ExponentialMovingAverage {
		return 1
	}
	return m.Config.Period
}

// Series computes the moving average for every position.
func (m *MovingAverage) Series(closes []float64) []float64 {
	switch m.config.Type {
	case ExponentialMovingAverage:
		return EMA(closes, m.Config.Period)
	default:
		return SMA(closes, m.Config.Period)
	}
}

// SMA is the rolling mean over period values; the first period-1 entries are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the recursive exponential average with alpha = 2/(span+1), seeded with
// the first non-NaN value. A NaN input carries the previous average forward.
func EMA(values []float64, span int) []float64 {
	if span <= 0 {
		return nanSlice(len(values))
	}
	return ewm(values, 2.0/float64(span+1), 1)
}

// ewm is an adjust=False exponentially weighted mean. Entries before minPeriods
// non-NaN observations have been seen are NaN.
func ewm(values []float64, alpha float64, minPeriods int) []float64 {
	out := nanSlice(len(values))
	avg := math.NaN()
	seen := 0
	for i, v := range values {
		if !math.IsNaN(v) {
			seen++
			if math.IsNaN(avg) {
				avg = v
			} else {
				avg = alpha*v + (1-alpha)*avg
			}
		}
		if seen >= minPeriods && !math.IsNaN(avg) {
			out[i] = avg
		}
	}
	return out
}
