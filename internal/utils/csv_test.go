package utils

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"btcQuant/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *domain.Snapshot {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	candles := []domain.Candle{
		{Time: start, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3},
		{Time: start.Add(time.Hour), Open: 100.5, High: 102, Low: 100, Close: 101.25, Volume: 4},
	}
	nan := math.NaN()
	return &domain.Snapshot{
		Dataset: domain.NewDataset("BTC/USD", "1h", candles, 0, start.Add(2*time.Hour)),
		Indicators: []domain.IndicatorRow{
			{SMA50: nan, SMA200: nan, EMA50: 100.5, EMA200: 100.5, RSI: nan, MACD: 0, MACDSignal: 0, MACDHist: 0},
			{SMA50: nan, SMA200: nan, EMA50: 100.53, EMA200: 100.51, RSI: nan, MACD: 0.06, MACDSignal: 0.01, MACDHist: 0.05},
		},
		Signal:    domain.SignalNeutral,
		UpdatedAt: start.Add(2 * time.Hour),
	}
}

func TestSignalsCSVName(t *testing.T) {
	assert.Equal(t, "btc_4h_signals.csv", SignalsCSVName("4h"))
}

func TestWriteSnapshotCSV(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshotCSV(&buf, testSnapshot(), denver))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,open,high,low,close,volume,SMA50,SMA200,EMA50,EMA200,RSI,MACD,MACDSignal,MACDHist", lines[0])
	assert.Equal(t, "2024-01-01 05:00:00-07:00,100,101,99,100.5,3,,,100.5,100.5,,0,0,0", lines[1])
	assert.Equal(t, "2024-01-01 06:00:00-07:00,100.5,102,100,101.25,4,,,100.53,100.51,,0.06,0.01,0.05", lines[2])
}

func TestWriteSnapshotCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", SignalsCSVName("1h"))
	require.NoError(t, WriteSnapshotCSVFile(path, testSnapshot(), nil))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "2024-01-01 12:00:00+00:00,100,")
}

func TestNewSnapshotView(t *testing.T) {
	snap := testSnapshot()
	st := domain.Status{Phase: domain.PhaseUpdated, LastSuccess: snap.UpdatedAt}

	view := NewSnapshotView(snap, st, "neutral", 1, time.UTC)
	assert.Equal(t, "BTC/USD", view.Symbol)
	assert.Equal(t, "Neutral", view.Signal)
	assert.Equal(t, 101.25, view.Price)
	require.Len(t, view.Candles, 1)
	assert.Nil(t, view.Candles[0].SMA50)
	require.NotNil(t, view.Candles[0].MACD)
	assert.Equal(t, 0.06, *view.Candles[0].MACD)
	assert.Nil(t, view.Status.LastAttempt)
	require.NotNil(t, view.Status.LastSuccess)

	b, err := json.Marshal(view)
	require.NoError(t, err, "NaN values must not reach the encoder")
	assert.Contains(t, string(b), `"sma50":null`)

	all := NewSnapshotView(snap, st, "", 0, nil)
	assert.Len(t, all.Candles, 2)
}
