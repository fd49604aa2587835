package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"btcQuant/config"
	"btcQuant/internal/domain"
	"btcQuant/internal/id"
	"btcQuant/internal/metrics"
	"btcQuant/internal/ports"
	"btcQuant/internal/strategy"
)

// Refresher keeps the latest dataset for one symbol/timeframe. It is the only
// writer of the published snapshot; readers call Current and never block on
// the network.
type Refresher struct {
	settings  config.Settings
	logger    ports.Logger
	exchange  ports.MarketDataClient
	strategy  *strategy.Strategy
	store     ports.DatasetStore
	cache     ports.SnapshotCache
	publisher ports.SnapshotPublisher
	metrics   *metrics.Metrics
	now       func() time.Time
	interval  time.Duration

	tickMu sync.Mutex // serialises Refresh

	mu       sync.RWMutex // protects snapshot and status
	snapshot *domain.Snapshot
	status   domain.Status
}

// Option configures optional Refresher collaborators.
type Option func(*Refresher)

// WithStore persists every good dataset and the attempt log.
func WithStore(s ports.DatasetStore) Option { return func(r *Refresher) { r.store = s } }

// WithCache mirrors every good dataset into a shared cache.
func WithCache(c ports.SnapshotCache) Option { return func(r *Refresher) { r.cache = c } }

// WithPublisher fans every new snapshot out to a publisher.
func WithPublisher(p ports.SnapshotPublisher) Option { return func(r *Refresher) { r.publisher = p } }

// WithMetrics records attempts and status in Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Refresher) { r.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Refresher) { r.now = now } }

// WithTickInterval overrides the settings' refresh interval for Run.
func WithTickInterval(d time.Duration) Option { return func(r *Refresher) { r.interval = d } }

// NewRefresher validates settings and wires the refresher.
func NewRefresher(settings config.Settings, logger ports.Logger, exchange ports.MarketDataClient, opts ...Option) (*Refresher, error) {
	if logger == nil || exchange == nil {
		return nil, fmt.Errorf("missing required dependencies for Refresher")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	r := &Refresher{
		settings: settings,
		logger:   logger,
		exchange: exchange,
		now:      time.Now,
		interval: settings.RefreshInterval(),
		status:   domain.Status{Phase: domain.PhaseIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	strat, err := strategy.New(nil, logger)
	if err != nil {
		return nil, err
	}
	r.strategy = strat
	if r.interval <= 0 {
		return nil, fmt.Errorf("%w: tick interval must be positive", ports.ErrInvalidSettings)
	}
	return r, nil
}

// Strategy returns the classifier used for snapshots.
func (r *Refresher) Strategy() *strategy.Strategy { return r.strategy }

// CheckMarket confirms the exchange serves the configured timeframe and lists
// the configured symbol. An unknown symbol or timeframe is reported as
// ports.ErrInvalidSettings; other failures are classified as in Fetch.
func (r *Refresher) CheckMarket(ctx context.Context) error {
	s := r.settings
	name := r.exchange.Name()
	if !r.exchange.SupportsTimeframe(s.Timeframe) {
		return fmt.Errorf("%w: timeframe %q is not offered by %s", ports.ErrInvalidSettings, s.Timeframe, name)
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout())
	defer cancel()
	resolved, err := r.exchange.ResolveSymbol(checkCtx, s.Symbol)
	switch {
	case errors.Is(err, ports.ErrUnknownSymbol), errors.Is(err, ports.ErrUnsupportedInterval):
		return fmt.Errorf("%w: %s on %s: %w", ports.ErrInvalidSettings, s.Symbol, name, err)
	case err != nil:
		return r.classifyFetchError(ctx, checkCtx, err)
	}
	r.logger.Info(ctx, "Market confirmed", ports.Fields{
		"exchange": name, "symbol": s.Symbol, "resolved": resolved, "timeframe": s.Timeframe,
	})
	return nil
}

// Current returns the last published snapshot (nil before any data) and a copy of the status.
func (r *Refresher) Current() (*domain.Snapshot, domain.Status) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot, r.status
}

// Fetch performs one exchange request for the newest lookback candles and returns
// a normalised dataset. It never touches the published snapshot.
func (r *Refresher) Fetch(ctx context.Context) (*domain.Dataset, error) {
	s := r.settings
	fetchCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout())
	defer cancel()

	candles, err := r.exchange.FetchOHLCV(fetchCtx, s.Symbol, s.Timeframe, s.Lookback)
	if err != nil {
		return nil, r.classifyFetchError(ctx, fetchCtx, err)
	}

	ds := domain.NewDataset(s.Symbol, s.Timeframe, candles, s.Lookback, r.now())
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w: %w", s.Symbol, s.Timeframe, ports.ErrExchangeUnavailable, err)
	}
	return ds, nil
}

// classifyFetchError makes sure timeouts surface as ErrExchangeUnavailable and
// caller cancellation as ErrContextCanceled.
func (r *Refresher) classifyFetchError(parent, fetchCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		if errors.Is(err, ports.ErrContextCanceled) {
			return err
		}
		return fmt.Errorf("fetch canceled: %w: %w", ports.ErrContextCanceled, err)
	case errors.Is(err, ports.ErrRateLimited), errors.Is(err, ports.ErrExchangeUnavailable):
		return err
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded), errors.Is(err, ports.ErrTimeout):
		return fmt.Errorf("fetch timed out after %s: %w: %w: %w",
			r.settings.RequestTimeout(), ports.ErrExchangeUnavailable, ports.ErrTimeout, err)
	default:
		return err
	}
}

// Refresh runs one tick: fetch, then either publish a new snapshot or record
// the failure and keep the previous one. While a retry-after hint is in effect
// the tick is skipped without contacting the exchange.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	start := r.now()
	if until := r.retryAfterUntil(); start.Before(until) {
		r.logger.Info(ctx, "Skipping refresh while rate limited", ports.Fields{
			"retryAfterUntil": until.Format(time.RFC3339), "remaining": until.Sub(start).String(),
		})
		r.metrics.ObserveSkip()
		return nil
	}

	r.setPhase(domain.PhaseFetching)
	ds, err := r.Fetch(ctx)
	var snap *domain.Snapshot
	if err == nil {
		snap, err = r.strategy.Evaluate(ctx, ds, r.now())
	}
	duration := r.now().Sub(start)

	if err != nil && ctx.Err() != nil {
		// Shutdown, not an exchange failure.
		r.setPhase(domain.PhaseIdle)
		return err
	}

	attempt := domain.Attempt{
		ID:        id.NewAt(start),
		Symbol:    r.settings.Symbol,
		Timeframe: r.settings.Timeframe,
		StartedAt: start,
		Duration:  duration,
	}
	if err != nil {
		attempt.Outcome = outcomeOf(err)
		attempt.Error = err.Error()
		r.recordFailure(ctx, start, err)
	} else {
		attempt.Outcome = domain.OutcomeSuccess
		attempt.Candles = ds.Len()
		r.publish(ctx, start, snap)
		r.persist(ctx, snap)
	}
	r.metrics.ObserveAttempt(r.exchange.Name(), attempt.Outcome, duration)
	r.recordAttempt(ctx, attempt)
	return err
}

func outcomeOf(err error) domain.AttemptOutcome {
	switch {
	case errors.Is(err, ports.ErrRateLimited):
		return domain.OutcomeRateLimited
	case errors.Is(err, ports.ErrExchangeUnavailable):
		return domain.OutcomeUnavailable
	default:
		return domain.OutcomeError
	}
}

func (r *Refresher) retryAfterUntil() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.RetryAfterUntil
}

func (r *Refresher) setPhase(p domain.Phase) {
	r.mu.Lock()
	r.status.Phase = p
	r.mu.Unlock()
}

// publish swaps in snap atomically and resets the failure streak.
func (r *Refresher) publish(ctx context.Context, at time.Time, snap *domain.Snapshot) {
	r.mu.Lock()
	wasDegraded := r.status.Degraded
	r.snapshot = snap
	r.status = domain.Status{
		Phase:       domain.PhaseUpdated,
		LastAttempt: at,
		LastSuccess: snap.UpdatedAt,
	}
	st := r.status
	r.mu.Unlock()

	r.metrics.ObserveStatus(st)
	r.metrics.ObserveSnapshot(snap)

	fields := ports.Fields{
		"symbol":    snap.Dataset.Symbol,
		"timeframe": snap.Dataset.Timeframe,
		"candles":   snap.Dataset.Len(),
		"signal":    string(snap.Signal),
	}
	if last, ok := snap.Dataset.Last(); ok {
		fields["lastCandle"] = last.Time.Format(time.RFC3339)
		fields["close"] = last.Close
	}
	if wasDegraded {
		r.logger.Info(ctx, "Refresh recovered; degraded flag cleared", fields)
		return
	}
	r.logger.Info(ctx, "Dataset refreshed", fields)
}

// recordFailure keeps the previous snapshot and advances the failure streak.
func (r *Refresher) recordFailure(ctx context.Context, at time.Time, err error) {
	r.mu.Lock()
	r.status.Phase = domain.PhaseFailed
	r.status.LastAttempt = at
	r.status.LastError = err.Error()
	r.status.ConsecutiveFailures++
	r.status.Stale = r.snapshot != nil
	becameDegraded := !r.status.Degraded && r.status.ConsecutiveFailures >= r.settings.FailureThreshold
	r.status.Degraded = r.status.ConsecutiveFailures >= r.settings.FailureThreshold
	if hint, ok := ports.RetryAfter(err); ok {
		r.status.RetryAfterUntil = at.Add(hint)
	}
	st := r.status
	r.mu.Unlock()

	r.metrics.ObserveStatus(st)

	fields := ports.Fields{
		"symbol":              r.settings.Symbol,
		"timeframe":           r.settings.Timeframe,
		"consecutiveFailures": st.ConsecutiveFailures,
		"threshold":           r.settings.FailureThreshold,
		"stale":               st.Stale,
		"error":               err.Error(),
	}
	if !st.RetryAfterUntil.IsZero() && st.RetryAfterUntil.After(at) {
		fields["retryAfterUntil"] = st.RetryAfterUntil.Format(time.RFC3339)
	}
	switch {
	case becameDegraded:
		r.logger.Error(ctx, err, "Refresh degraded after consecutive failures", fields)
	case ports.IsTransient(err):
		r.logger.Warn(ctx, "Refresh failed; keeping previous dataset", fields)
	default:
		r.logger.Error(ctx, err, "Refresh failed; keeping previous dataset", fields)
	}
}

// persist writes the new dataset to the store, cache and publisher. Failures
// are logged and never affect the published snapshot.
func (r *Refresher) persist(ctx context.Context, snap *domain.Snapshot) {
	ds := snap.Dataset
	if r.store != nil {
		if err := r.store.SaveDataset(ctx, ds); err != nil {
			r.logger.Warn(ctx, "Failed to persist dataset", ports.Fields{"error": err.Error()})
		}
	}
	if r.cache != nil {
		if err := r.cache.Put(ctx, ds); err != nil {
			r.logger.Warn(ctx, "Failed to mirror dataset to cache", ports.Fields{"error": err.Error()})
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, snap); err != nil {
			r.logger.Warn(ctx, "Failed to publish snapshot", ports.Fields{"error": err.Error()})
		}
	}
}

func (r *Refresher) recordAttempt(ctx context.Context, a domain.Attempt) {
	r.logger.Debug(ctx, "Refresh attempt", ports.Fields{
		"attemptID": a.ID,
		"outcome":   string(a.Outcome),
		"duration":  a.Duration.String(),
		"candles":   a.Candles,
	})
	if r.store == nil {
		return
	}
	if err := r.store.RecordAttempt(ctx, a); err != nil {
		r.logger.Warn(ctx, "Failed to record refresh attempt", ports.Fields{"attemptID": a.ID, "error": err.Error()})
	}
}

// Warm publishes the last persisted dataset (store first, then cache) as a stale
// snapshot so readers have data before the first live fetch. It does nothing
// once a snapshot exists and returns ports.ErrNotFound when neither source has data.
func (r *Refresher) Warm(ctx context.Context) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	if snap, _ := r.Current(); snap != nil {
		return nil
	}
	s := r.settings

	var ds *domain.Dataset
	source := ""
	if r.store != nil {
		loaded, err := r.store.LoadDataset(ctx, s.Symbol, s.Timeframe, s.Lookback)
		if err != nil {
			r.logger.Warn(ctx, "Warm start from store failed", ports.Fields{"error": err.Error()})
		} else if loaded != nil {
			ds, source = loaded, "store"
		}
	}
	if ds == nil && r.cache != nil {
		cached, err := r.cache.Get(ctx, s.Symbol, s.Timeframe)
		switch {
		case err == nil:
			ds, source = cached, "cache"
		case !errors.Is(err, ports.ErrCacheMiss):
			r.logger.Warn(ctx, "Warm start from cache failed", ports.Fields{"error": err.Error()})
		}
	}
	if ds == nil {
		return fmt.Errorf("warm start for %s %s: %w", s.Symbol, s.Timeframe, ports.ErrNotFound)
	}
	// Persisted data may predate a lookback change.
	ds = domain.NewDataset(s.Symbol, s.Timeframe, ds.Candles, s.Lookback, ds.FetchedAt)

	snap, err := r.strategy.Evaluate(ctx, ds, ds.FetchedAt)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}

	r.mu.Lock()
	r.snapshot = snap
	r.status.Stale = true
	st := r.status
	r.mu.Unlock()
	r.metrics.ObserveSnapshot(snap)
	r.metrics.ObserveStatus(st)

	r.logger.Info(ctx, "Warm-started from persisted dataset", ports.Fields{
		"source": source, "candles": ds.Len(), "fetchedAt": ds.FetchedAt.Format(time.RFC3339),
	})
	return nil
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
// Fetch failures are logged and retried on the next tick; Run itself only
// returns when ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info(ctx, "Refresher started", ports.Fields{
		"exchange":  r.exchange.Name(),
		"symbol":    r.settings.Symbol,
		"timeframe": r.settings.Timeframe,
		"lookback":  r.settings.Lookback,
		"interval":  r.interval.String(),
	})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			r.logger.Info(ctx, "Refresher stopped")
			return nil
		}
		r.tick(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Refresher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs Refresh and contains any panic from an adapter.
func (r *Refresher) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			at := r.now()
			err := fmt.Errorf("refresh panicked: %v", p)
			r.recordFailure(ctx, at, err)
			attempt := domain.Attempt{
				ID:        id.NewAt(at),
				Symbol:    r.settings.Symbol,
				Timeframe: r.settings.Timeframe,
				StartedAt: at,
				Outcome:   domain.OutcomeError,
				Error:     err.Error(),
			}
			r.metrics.ObserveAttempt(r.exchange.Name(), attempt.Outcome, 0)
			r.recordAttempt(ctx, attempt)
		}
	}()
	_ = r.Refresh(ctx) // outcome already logged and reflected in status
}
