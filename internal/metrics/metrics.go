package metrics

import (
	"time"

	"btcQuant/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "btcquant"

// Metrics holds the refresher's Prometheus collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	RefreshAttempts     *prometheus.CounterVec
	RefreshDuration     *prometheus.HistogramVec
	SkippedTicks        prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	Degraded            prometheus.Gauge
	LastSuccess         prometheus.Gauge
	DatasetCandles      prometheus.Gauge
	Signal              *prometheus.GaugeVec
	KeepAlivePings      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RefreshAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_attempts_total",
				Help:      "Refresh attempts by exchange and outcome",
			},
			[]string{"exchange", "outcome"},
		),
		RefreshDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of exchange fetches",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"exchange"},
		),
		SkippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_skipped_ticks_total",
			Help:      "Ticks skipped while honouring a retry-after hint",
		}),
		ConsecutiveFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_consecutive_failures",
			Help:      "Failed refreshes since the last success",
		}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 when consecutive failures reached the threshold",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}),
		DatasetCandles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_candles",
			Help:      "Candles in the published dataset",
		}),
		Signal: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "signal",
				Help:      "1 for the current regime signal, 0 otherwise",
			},
			[]string{"signal"},
		),
		KeepAlivePings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keepalive_pings_total",
				Help:      "Keep-alive pings by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveAttempt records one finished fetch.
func (m *Metrics) ObserveAttempt(exchange string, outcome domain.AttemptOutcome, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshAttempts.WithLabelValues(exchange, string(outcome)).Inc()
	m.RefreshDuration.WithLabelValues(exchange).Observe(d.Seconds())
}

// ObserveSkip records a tick skipped for a retry-after hint.
func (m *Metrics) ObserveSkip() {
	if m == nil {
		return
	}
	m.SkippedTicks.Inc()
}

// ObserveStatus mirrors the refresher status.
func (m *Metrics) ObserveStatus(st domain.Status) {
	if m == nil {
		return
	}
	m.ConsecutiveFailures.Set(float64(st.ConsecutiveFailures))
	if st.Degraded {
		m.Degraded.Set(1)
	} else {
		m.Degraded.Set(0)
	}
	if !st.LastSuccess.IsZero() {
		m.LastSuccess.Set(float64(st.LastSuccess.Unix()))
	}
}

// ObserveSnapshot mirrors the published snapshot.
func (m *Metrics) ObserveSnapshot(snap *domain.Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.DatasetCandles.Set(float64(snap.Dataset.Len()))
	for _, s := range []domain.Signal{domain.SignalBullish, domain.SignalBearish, domain.SignalNeutral} {
		v := 0.0
		if s == snap.Signal {
			v = 1
		}
		m.Signal.WithLabelValues(string(s)).Set(v)
	}
}

// ObservePing records one keep-alive result ("ok" or "error").
func (m *Metrics) ObservePing(result string) {
	if m == nil {
		return
	}
	m.KeepAlivePings.WithLabelValues(result).Inc()
}
