package utils

import (
	"math"
	"time"

	"btcQuant/internal/domain"
)

// CandleView is the JSON form of one candle and its indicators.
// Undefined indicator values encode as null.
type CandleView struct {
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	SMA50      *float64  `json:"sma50"`
	SMA200     *float64  `json:"sma200"`
	EMA50      *float64  `json:"ema50"`
	EMA200     *float64  `json:"ema200"`
	RSI        *float64  `json:"rsi"`
	MACD       *float64  `json:"macd"`
	MACDSignal *float64  `json:"macd_signal"`
	MACDHist   *float64  `json:"macd_hist"`
}

// StatusView is the JSON form of domain.Status.
type StatusView struct {
	Phase               string     `json:"phase"`
	Stale               bool       `json:"stale"`
	Degraded            bool       `json:"degraded"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastAttempt         *time.Time `json:"last_attempt,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	RetryAfterUntil     *time.Time `json:"retry_after_until,omitempty"`
}

// SnapshotView is the JSON form of a snapshot plus the refresher status.
type SnapshotView struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Signal    string       `json:"signal"`
	RSIZone   string       `json:"rsi_zone,omitempty"`
	Price     float64      `json:"price"`
	FetchedAt time.Time    `json:"fetched_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Status    StatusView   `json:"status"`
	Candles   []CandleView `json:"candles"`
}

// NewStatusView converts st, rendering times in loc.
func NewStatusView(st domain.Status, loc *time.Location) StatusView {
	return StatusView{
		Phase:               string(st.Phase),
		Stale:               st.Stale,
		Degraded:            st.Degraded,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastError:           st.LastError,
		LastAttempt:         optionalTime(st.LastAttempt, loc),
		LastSuccess:         optionalTime(st.LastSuccess, loc),
		RetryAfterUntil:     optionalTime(st.RetryAfterUntil, loc),
	}
}

// NewSnapshotView converts snap, keeping only the newest tail candles (all when tail <= 0).
func NewSnapshotView(snap *domain.Snapshot, st domain.Status, rsiZone string, tail int, loc *time.Location) SnapshotView {
	if loc == nil {
		loc = time.UTC
	}
	ds := snap.Dataset
	start := 0
	if tail > 0 && ds.Len() > tail {
		start = ds.Len() - tail
	}

	view := SnapshotView{
		Symbol:    ds.Symbol,
		Timeframe: ds.Timeframe,
		Signal:    string(snap.Signal),
		RSIZone:   rsiZone,
		FetchedAt: ds.FetchedAt.In(loc),
		UpdatedAt: snap.UpdatedAt.In(loc),
		Status:    NewStatusView(st, loc),
		Candles:   make([]CandleView, 0, ds.Len()-start),
	}
	if last, ok := ds.Last(); ok {
		view.Price = last.Close
	}
	for i := start; i < ds.Len(); i++ {
		c := ds.Candles[i]
		cv := CandleView{
			Time: c.Time.In(loc), Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		}
		if i < len(snap.Indicators) {
			ind := snap.Indicators[i]
			cv.SMA50 = Nullable(ind.SMA50)
			cv.SMA200 = Nullable(ind.SMA200)
			cv.EMA50 = Nullable(ind.EMA50)
			cv.EMA200 = Nullable(ind.EMA200)
			cv.RSI = Nullable(ind.RSI)
			cv.MACD = Nullable(ind.MACD)
			cv.MACDSignal = Nullable(ind.MACDSignal)
			cv.MACDHist = Nullable(ind.MACDHist)
		}
		view.Candles = append(view.Candles, cv)
	}
	return view
}

// Nullable returns nil for NaN or infinite values, which JSON cannot encode.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func optionalTime(t time.Time, loc *time.Location) *time.Time {
	if t.IsZero() {
		return nil
	}
	lt := t.In(loc)
	return &lt
}
