package indicators

// MACDConfig holds the three MACD spans.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// DefaultMACDConfig is the conventional 12/26/9.
func DefaultMACDConfig() MACDConfig {
	return MACDConfig{Fast: 12, Slow: 26, Signal: 9}
}

// MACDResult holds the three MACD output series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow), its signal EMA and the histogram.
// All three are defined from the first candle.
func MACD(closes []float64, cfg MACDConfig) MACDResult {
	fast := EMA(closes, cfg.Fast)
	slow := EMA(closes, cfg.Slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	signal := EMA(line, cfg.Signal)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signal[i]
	}
	return MACDResult{MACD: line, Signal: signal, Histogram: hist}
}
