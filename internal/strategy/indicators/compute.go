package indicators

import (
	"btcQuant/internal/domain"
)

// Set is the fixed collection of indicators attached to every candle.
type Set struct {
	SMAFast *MovingAverage
	SMASlow *MovingAverage
	EMAFast *MovingAverage
	EMASlow *MovingAverage
	RSI     *RSI
	MACD    MACDConfig
}

// DefaultSet returns SMA/EMA 50 and 200, RSI 14 (70/30) and MACD 12/26/9.
func DefaultSet() *Set {
	ma := func(t MovingAverageType, p int) *MovingAverage {
		return NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: p}, Type: t})
	}
	return &Set{
		SMAFast: ma(SimpleMovingAverage, 50),
		SMASlow: ma(SimpleMovingAverage, 200),
		EMAFast: ma(ExponentialMovingAverage, 50),
		EMASlow: ma(ExponentialMovingAverage, 200),
		RSI: NewRSI(RSIConfig{
			IndicatorConfig: IndicatorConfig{Period: 14},
			Overbought:      70,
			Oversold:        30,
		}),
		MACD: DefaultMACDConfig(),
	}
}

// RequiredDataPoints is the candle count after which every column is defined.
func (s *Set) RequiredDataPoints() int {
	need := 1
	for _, ind := range []Indicator{s.SMAFast, s.SMASlow, s.EMAFast, s.EMASlow, s.RSI} {
		if n := ind.RequiredDataPoints(); n > need {
			need = n
		}
	}
	return need
}

// Compute returns one IndicatorRow per candle, aligned by index. Columns are NaN
// until their warm-up window has filled. The candles are not modified.
func (s *Set) Compute(candles []domain.Candle) []domain.IndicatorRow {
	closes := closesOf(candles)
	smaFast := s.SMAFast.Series(closes)
	smaSlow := s.SMASlow.Series(closes)
	emaFast := s.EMAFast.Series(closes)
	emaSlow := s.EMASlow.Series(closes)
	rsi := s.RSI.Series(closes)
	macd := MACD(closes, s.MACD)

	rows := make([]domain.IndicatorRow, len(candles))
	for i := range rows {
		rows[i] = domain.IndicatorRow{
			SMA50:      smaFast[i],
			SMA200:     smaSlow[i],
			EMA50:      emaFast[i],
			EMA200:     emaSlow[i],
			RSI:        rsi[i],
			MACD:       macd.MACD[i],
			MACDSignal: macd.Signal[i],
			MACDHist:   macd.Histogram[i],
		}
	}
	return rows
}
