package domain

import "time"

// IndicatorRow holds the indicator values aligned with one candle.
// Values are NaN where the indicator is not yet defined.
type IndicatorRow struct {
	SMA50      float64
	SMA200     float64
	EMA50      float64
	EMA200     float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
}

// Snapshot is what the rendering layer reads: a complete dataset, its
// indicators and the derived signal.
type Snapshot struct {
	Dataset    *Dataset
	Indicators []IndicatorRow
	Signal     Signal
	UpdatedAt  time.Time
}

// Status describes the refresher's health as seen by readers.
type Status struct {
	Phase               Phase
	Stale               bool // the visible snapshot is older than the last attempt
	Degraded            bool // ConsecutiveFailures reached the configured threshold
	ConsecutiveFailures int
	LastError           string
	LastAttempt         time.Time
	LastSuccess         time.Time
	RetryAfterUntil     time.Time
}

// Attempt is one row of the refresh attempt log.
type Attempt struct {
	ID        string
	Symbol    string
	Timeframe string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   AttemptOutcome
	Candles   int
	Error     string
}
