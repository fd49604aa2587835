package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Candle represents a single OHLCV bucket of the configured timeframe.
type Candle struct {
	Time   time.Time // Start of the bucket (UTC)
	Open   float64   // Opening price
	High   float64   // Highest price
	Low    float64   // Lowest price
	Close  float64   // Closing price
	Volume float64   // Traded volume in base units
}

// ErrEmptyDataset is returned when a dataset has no candles.
var ErrEmptyDataset = errors.New("dataset has no candles")

// Dataset is the ordered candle window for one (symbol, timeframe) pair.
// A published Dataset is never mutated; a refresh replaces it wholesale.
type Dataset struct {
	Symbol    string
	Timeframe string
	Candles   []Candle
	FetchedAt time.Time
}

// NewDataset sorts candles ascending, collapses duplicate timestamps (the later
// row wins) and keeps only the newest lookback candles. The input slice is not modified.
func NewDataset(symbol, timeframe string, candles []Candle, lookback int, fetchedAt time.Time) *Dataset {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := make([]Candle, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	if lookback > 0 && len(out) > lookback {
		out = out[len(out)-lookback:]
	}

	return &Dataset{
		Symbol:    symbol,
		Timeframe: timeframe,
		Candles:   out,
		FetchedAt: fetchedAt,
	}
}

// Len returns the number of candles.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Candles)
}

// Last returns the newest candle.
func (d *Dataset) Last() (Candle, bool) {
	if d.Len() == 0 {
		return Candle{}, false
	}
	return d.Candles[len(d.Candles)-1], true
}

// Closes returns the close prices in order.
func (d *Dataset) Closes() []float64 {
	closes := make([]float64, d.Len())
	for i, c := range d.Candles {
		closes[i] = c.Close
	}
	return closes
}

// Validate checks that the dataset is non-empty and strictly increasing in time.
func (d *Dataset) Validate() error {
	if d.Len() == 0 {
		return ErrEmptyDataset
	}
	for i := 1; i < len(d.Candles); i++ {
		if !d.Candles[i].Time.After(d.Candles[i-1].Time) {
			return fmt.Errorf("candle %d at %s is not after candle %d at %s",
				i, d.Candles[i].Time.Format(time.RFC3339), i-1, d.Candles[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}
