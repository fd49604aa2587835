package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	s, err := New(nil, &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 200, s.RequiredDataPoints())
}

func row(sma50, sma200, ema50, ema200, rsi, macd, signal float64) domain.IndicatorRow {
	return domain.IndicatorRow{
		SMA50: sma50, SMA200: sma200,
		EMA50: ema50, EMA200: ema200,
		RSI:  rsi,
		MACD: macd, MACDSignal: signal,
	}
}

func TestClassify(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		row  domain.IndicatorRow
		want domain.Signal
	}{
		{"all bullish", row(110, 100, 110, 100, 65, 2, 1), domain.SignalBullish},
		{"three bullish one bearish", row(110, 100, 110, 100, 65, 1, 2), domain.SignalBullish},
		{"all bearish", row(90, 100, 90, 100, 35, 1, 2), domain.SignalBearish},
		{"three bearish one bullish", row(90, 100, 90, 100, 35, 2, 1), domain.SignalBearish},
		{"split two two", row(110, 100, 110, 100, 35, 1, 2), domain.SignalNeutral},
		{"ties vote for neither side", row(100, 100, 100, 100, 50, 1, 1), domain.SignalNeutral},
		{"two bullish two ties", row(110, 100, 110, 100, 50, 1, 1), domain.SignalNeutral},
		{"undefined long averages", row(110, nan, 110, 100, 65, 2, 1), domain.SignalBullish},
		{"only two defined votes", row(110, nan, 110, nan, 65, nan, nan), domain.SignalNeutral},
		{"all undefined", row(nan, nan, nan, nan, nan, nan, nan), domain.SignalNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.row))
		})
	}
}

func trendingDataset(n int, step float64) *domain.Dataset {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	price := 30000.0
	for i := range candles {
		candles[i] = domain.Candle{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: price, High: price + 10, Low: price - 10, Close: price, Volume: 1,
		}
		price += step
	}
	return domain.NewDataset("BTC/USD", "1h", candles, 0, start)
}

func TestEvaluate(t *testing.T) {
	logger := &mockLogger{}
	s, err := New(nil, logger)
	require.NoError(t, err)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("uptrend is bullish", func(t *testing.T) {
		ds := trendingDataset(300, 25)
		snap, err := s.Evaluate(context.Background(), ds, now)
		require.NoError(t, err)
		assert.Same(t, ds, snap.Dataset)
		assert.Len(t, snap.Indicators, 300)
		assert.Equal(t, domain.SignalBullish, snap.Signal)
		assert.Equal(t, now, snap.UpdatedAt)
		assert.Equal(t, "overbought", s.RSIZone(snap.Indicators[299]))
	})

	t.Run("downtrend is bearish", func(t *testing.T) {
		snap, err := s.Evaluate(context.Background(), trendingDataset(300, -25), now)
		require.NoError(t, err)
		assert.Equal(t, domain.SignalBearish, snap.Signal)
	})

	t.Run("short dataset still evaluates", func(t *testing.T) {
		snap, err := s.Evaluate(context.Background(), trendingDataset(24, 10), now)
		require.NoError(t, err)
		assert.Len(t, snap.Indicators, 24)
		assert.True(t, math.IsNaN(snap.Indicators[23].SMA50))
		assert.Contains(t, logger.debugMsgs, "Not enough candles for every indicator")
	})

	t.Run("empty dataset is rejected", func(t *testing.T) {
		_, err := s.Evaluate(context.Background(), domain.NewDataset("BTC/USD", "1h", nil, 0, now), now)
		assert.ErrorIs(t, err, domain.ErrEmptyDataset)
	})
}
