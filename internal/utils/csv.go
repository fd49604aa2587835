package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"btcQuant/internal/domain"
)

// CSVTimeLayout matches the ISO form with a numeric offset, e.g. "2024-01-01 05:00:00-07:00".
const CSVTimeLayout = "2006-01-02 15:04:05-07:00"

var csvHeader = []string{
	"time", "open", "high", "low", "close", "volume",
	"SMA50", "SMA200", "EMA50", "EMA200", "RSI", "MACD", "MACDSignal", "MACDHist",
}

// SignalsCSVName is the download name for a timeframe's export, e.g. "btc_1h_signals.csv".
func SignalsCSVName(timeframe string) string {
	return fmt.Sprintf("btc_%s_signals.csv", timeframe)
}

// WriteSnapshotCSV writes one row per candle with its indicators. Times are
// rendered in loc; undefined indicator values are empty cells.
func WriteSnapshotCSV(w io.Writer, snap *domain.Snapshot, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for i, c := range snap.Dataset.Candles {
		var ind domain.IndicatorRow
		if i < len(snap.Indicators) {
			ind = snap.Indicators[i]
		} else {
			ind = domain.IndicatorRow{
				SMA50: math.NaN(), SMA200: math.NaN(), EMA50: math.NaN(), EMA200: math.NaN(),
				RSI: math.NaN(), MACD: math.NaN(), MACDSignal: math.NaN(), MACDHist: math.NaN(),
			}
		}
		record := []string{
			c.Time.In(loc).Format(CSVTimeLayout),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			formatFloat(ind.SMA50),
			formatFloat(ind.SMA200),
			formatFloat(ind.EMA50),
			formatFloat(ind.EMA200),
			formatFloat(ind.RSI),
			formatFloat(ind.MACD),
			formatFloat(ind.MACDSignal),
			formatFloat(ind.MACDHist),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSnapshotCSVFile writes the export to filename, creating parent directories.
func WriteSnapshotCSVFile(filename string, snap *domain.Snapshot, loc *time.Location) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteSnapshotCSV(file, snap, loc); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
