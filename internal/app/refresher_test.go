package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefresher(t *testing.T, lookback, threshold int, ex *mockExchange, opts ...Option) (*Refresher, *mockLogger, *fakeClock) {
	t.Helper()
	logger := &mockLogger{}
	clock := &fakeClock{now: baseTime.Add(48 * time.Hour)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	r, err := NewRefresher(testSettings(lookback, threshold), logger, ex, opts...)
	require.NoError(t, err)
	return r, logger, clock
}

func assertStrictlyIncreasing(t *testing.T, ds *domain.Dataset) {
	t.Helper()
	for i := 1; i < ds.Len(); i++ {
		assert.True(t, ds.Candles[i].Time.After(ds.Candles[i-1].Time), "candle %d not after %d", i, i-1)
	}
}

func TestNewRefresher(t *testing.T) {
	ex := &mockExchange{}

	_, err := NewRefresher(testSettings(24, 3), nil, ex)
	assert.Error(t, err)

	_, err = NewRefresher(testSettings(24, 3), &mockLogger{}, nil)
	assert.Error(t, err)

	bad := testSettings(0, 3)
	_, err = NewRefresher(bad, &mockLogger{}, ex)
	assert.ErrorIs(t, err, ports.ErrInvalidSettings)

	r, err := NewRefresher(testSettings(24, 3), &mockLogger{}, ex)
	require.NoError(t, err)
	snap, st := r.Current()
	assert.Nil(t, snap)
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.False(t, st.Degraded)
}

func TestRefresh_TwentyFourHourlyCandles(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{{candles: hourlyCandles(24, 0)}}}
	store, cache, pub := &mockStore{}, &mockCache{}, &mockPublisher{}
	r, _, _ := newTestRefresher(t, 24, 5, ex, WithStore(store), WithCache(cache), WithPublisher(pub))

	require.NoError(t, r.Refresh(context.Background()))

	snap, st := r.Current()
	require.NotNil(t, snap)
	ds := snap.Dataset
	require.Equal(t, 24, ds.Len())
	assert.True(t, ds.Candles[0].Time.Before(ds.Candles[23].Time))
	assertStrictlyIncreasing(t, ds)
	assert.Len(t, snap.Indicators, 24)
	assert.Equal(t, "BTC/USD", ds.Symbol)
	assert.Equal(t, "1h", ds.Timeframe)

	assert.Equal(t, domain.PhaseUpdated, st.Phase)
	assert.False(t, st.Stale)
	assert.False(t, st.Degraded)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.LastSuccess.IsZero())

	require.Len(t, store.saved, 1)
	assert.Same(t, ds, store.saved[0])
	assert.Equal(t, 1, cache.puts)
	require.Len(t, pub.published, 1)
	assert.Same(t, snap, pub.published[0])

	attempts := store.attemptLog()
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.OutcomeSuccess, attempts[0].Outcome)
	assert.Equal(t, 24, attempts[0].Candles)
	assert.Len(t, attempts[0].ID, 26)
}

func TestRefresh_DatasetIsNormalised(t *testing.T) {
	raw := hourlyCandles(30, 0)
	// Reverse and duplicate one bucket with a revised close.
	shuffled := make([]domain.Candle, 0, len(raw)+1)
	for i := len(raw) - 1; i >= 0; i-- {
		shuffled = append(shuffled, raw[i])
	}
	revised := raw[29]
	revised.Close = 1
	shuffled = append(shuffled, revised)

	ex := &mockExchange{script: []fetchResult{{candles: shuffled}}}
	r, _, _ := newTestRefresher(t, 24, 5, ex)

	ds, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, ds.Len(), 24)
	assertStrictlyIncreasing(t, ds)
	last, _ := ds.Last()
	assert.True(t, raw[29].Time.Equal(last.Time))
	assert.Equal(t, 1.0, last.Close, "the later duplicate wins")
}

func TestFetch_Idempotent(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{{candles: hourlyCandles(24, 0)}}}
	r, _, _ := newTestRefresher(t, 24, 5, ex)

	first, err := r.Fetch(context.Background())
	require.NoError(t, err)
	second, err := r.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		result  fetchResult
		wantErr []error
	}{
		{
			name:    "exchange unavailable passes through",
			result:  fetchResult{err: fmt.Errorf("op failed: %w: %w", ports.ErrExchangeUnavailable, errBoom)},
			wantErr: []error{ports.ErrExchangeUnavailable, errBoom},
		},
		{
			name:    "timeout becomes exchange unavailable",
			result:  fetchResult{err: fmt.Errorf("op failed: %w: %w", ports.ErrTimeout, context.DeadlineExceeded)},
			wantErr: []error{ports.ErrExchangeUnavailable, ports.ErrTimeout},
		},
		{
			name:    "rate limited keeps its hint",
			result:  fetchResult{err: &ports.RateLimitError{RetryAfter: time.Minute}},
			wantErr: []error{ports.ErrRateLimited},
		},
		{
			name:    "empty response is unavailable",
			result:  fetchResult{candles: nil},
			wantErr: []error{ports.ErrExchangeUnavailable, domain.ErrEmptyDataset},
		},
		{
			name:    "unknown symbol is not transient",
			result:  fetchResult{err: fmt.Errorf("resolve: %w", ports.ErrUnknownSymbol)},
			wantErr: []error{ports.ErrUnknownSymbol},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRefresher(t, 24, 5, &mockExchange{script: []fetchResult{tt.result}})
			_, err := r.Fetch(context.Background())
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestFetch_RequestTimeout(t *testing.T) {
	r, _, _ := newTestRefresher(t, 24, 5, &mockExchange{block: true})

	start := time.Now()
	_, err := r.Fetch(context.Background())
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRefresh_TimeoutOnSecondOfFiveAttempts(t *testing.T) {
	timeout := fmt.Errorf("FetchOHLCV failed: %w: %w: %w", ports.ErrExchangeUnavailable, ports.ErrTimeout, context.DeadlineExceeded)
	ex := &mockExchange{script: []fetchResult{
		{candles: hourlyCandles(24, 0)},
		{err: timeout},
		{candles: hourlyCandles(24, 1)},
		{candles: hourlyCandles(24, 2)},
		{candles: hourlyCandles(24, 3)},
	}}
	store := &mockStore{}
	r, _, _ := newTestRefresher(t, 24, 5, ex, WithStore(store))
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx))
	afterFirst, _ := r.Current()

	err := r.Refresh(ctx)
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	afterSecond, st := r.Current()
	assert.Same(t, afterFirst, afterSecond, "a failed fetch must not replace the dataset")
	assert.Equal(t, afterFirst.Dataset.Candles, afterSecond.Dataset.Candles)
	assert.Equal(t, domain.PhaseFailed, st.Phase)
	assert.True(t, st.Stale)
	assert.False(t, st.Degraded)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, ports.ErrTimeout.Error())

	for i := 3; i <= 5; i++ {
		require.NoError(t, r.Refresh(ctx), "attempt %d", i)
		_, st = r.Current()
		assert.False(t, st.Degraded, "attempt %d", i)
	}

	snap, st := r.Current()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.Stale)
	newest, _ := snap.Dataset.Last()
	assert.True(t, baseTime.Add(26*time.Hour).Equal(newest.Time))

	outcomes := make([]domain.AttemptOutcome, 0, 5)
	for _, a := range store.attemptLog() {
		outcomes = append(outcomes, a.Outcome)
	}
	assert.Equal(t, []domain.AttemptOutcome{
		domain.OutcomeSuccess, domain.OutcomeUnavailable,
		domain.OutcomeSuccess, domain.OutcomeSuccess, domain.OutcomeSuccess,
	}, outcomes)
}

func TestRefresh_DegradedAfterThresholdAndResets(t *testing.T) {
	unavailable := fmt.Errorf("op failed: %w: %w", ports.ErrExchangeUnavailable, errBoom)
	ex := &mockExchange{script: []fetchResult{
		{candles: hourlyCandles(24, 0)},
		{err: unavailable},
		{err: unavailable},
		{err: unavailable},
		{err: unavailable},
		{candles: hourlyCandles(24, 5)},
	}}
	r, logger, _ := newTestRefresher(t, 24, 3, ex)
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx))
	good, _ := r.Current()

	for i := 1; i <= 4; i++ {
		require.Error(t, r.Refresh(ctx))
		snap, st := r.Current()
		assert.Same(t, good, snap)
		assert.Equal(t, i, st.ConsecutiveFailures)
		assert.Equal(t, i >= 3, st.Degraded, "failure %d", i)
	}
	assert.True(t, logger.has(&logger.errorMsgs, "Refresh degraded after consecutive failures"))

	require.NoError(t, r.Refresh(ctx))
	snap, st := r.Current()
	assert.NotSame(t, good, snap)
	assert.False(t, st.Degraded)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
	assert.True(t, logger.has(&logger.infoMsgs, "Refresh recovered; degraded flag cleared"))
}

func TestRefresh_FailureBeforeFirstSuccess(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{{err: fmt.Errorf("x: %w", ports.ErrExchangeUnavailable)}}}
	r, _, _ := newTestRefresher(t, 24, 5, ex)

	require.Error(t, r.Refresh(context.Background()))
	snap, st := r.Current()
	assert.Nil(t, snap)
	assert.False(t, st.Stale, "there is no dataset to be stale")
	assert.Equal(t, 1, st.ConsecutiveFailures)
}

func TestRefresh_RetryAfterSkipsTicks(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{
		{err: &ports.RateLimitError{RetryAfter: 30 * time.Second}},
		{candles: hourlyCandles(24, 0)},
	}}
	store := &mockStore{}
	r, logger, clock := newTestRefresher(t, 24, 5, ex, WithStore(store))
	ctx := context.Background()

	err := r.Refresh(ctx)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	_, st := r.Current()
	assert.False(t, st.RetryAfterUntil.IsZero())
	assert.Equal(t, domain.OutcomeRateLimited, store.attemptLog()[0].Outcome)

	clock.Advance(10 * time.Second)
	require.NoError(t, r.Refresh(ctx))
	assert.Equal(t, 1, ex.callCount(), "tick inside the retry-after window must not call the exchange")
	_, st = r.Current()
	assert.Equal(t, 1, st.ConsecutiveFailures, "a skipped tick is not a failure")
	assert.Len(t, store.attemptLog(), 1)
	assert.True(t, logger.has(&logger.infoMsgs, "Skipping refresh while rate limited"))

	clock.Advance(25 * time.Second)
	require.NoError(t, r.Refresh(ctx))
	assert.Equal(t, 2, ex.callCount())
	_, st = r.Current()
	assert.True(t, st.RetryAfterUntil.IsZero())
}

func TestRefresh_PersistenceFailuresDoNotFailRefresh(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{{candles: hourlyCandles(24, 0)}}}
	r, logger, _ := newTestRefresher(t, 24, 5, ex,
		WithStore(&mockStore{saveErr: errBoom}),
		WithCache(&mockCache{err: errBoom}),
		WithPublisher(&mockPublisher{err: errBoom}),
	)

	require.NoError(t, r.Refresh(context.Background()))
	snap, st := r.Current()
	require.NotNil(t, snap)
	assert.Equal(t, domain.PhaseUpdated, st.Phase)
	assert.True(t, logger.has(&logger.warnMsgs, "Failed to persist dataset"))
	assert.True(t, logger.has(&logger.warnMsgs, "Failed to mirror dataset to cache"))
	assert.True(t, logger.has(&logger.warnMsgs, "Failed to publish snapshot"))
}

func TestRefresh_CancellationIsNotAFailure(t *testing.T) {
	ex := &mockExchange{block: true}
	r, _, _ := newTestRefresher(t, 24, 1, ex)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := r.Refresh(ctx)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)

	_, st := r.Current()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.Degraded)
	assert.Equal(t, domain.PhaseIdle, st.Phase)
}

func TestWarm(t *testing.T) {
	stored := domain.NewDataset("BTC/USD", "1h", hourlyCandles(24, 0), 0, baseTime.Add(24*time.Hour))

	t.Run("from store", func(t *testing.T) {
		r, _, _ := newTestRefresher(t, 24, 5, &mockExchange{}, WithStore(&mockStore{load: stored}), WithCache(&mockCache{}))
		require.NoError(t, r.Warm(context.Background()))
		snap, st := r.Current()
		require.NotNil(t, snap)
		assert.Equal(t, stored.Candles, snap.Dataset.Candles)
		assert.Equal(t, stored.FetchedAt, snap.Dataset.FetchedAt)
		assert.True(t, st.Stale)
		assert.Equal(t, domain.PhaseIdle, st.Phase)
	})

	t.Run("falls back to cache", func(t *testing.T) {
		r, _, _ := newTestRefresher(t, 24, 5, &mockExchange{},
			WithStore(&mockStore{loadErr: errBoom}), WithCache(&mockCache{data: stored}))
		require.NoError(t, r.Warm(context.Background()))
		snap, _ := r.Current()
		require.NotNil(t, snap)
		assert.Equal(t, stored.Candles, snap.Dataset.Candles)
	})

	t.Run("trims a longer cached dataset to lookback", func(t *testing.T) {
		// Cached under an earlier, larger lookback and left unsorted.
		cached := &domain.Dataset{Symbol: "BTC/USD", Timeframe: "1h", FetchedAt: baseTime.Add(48 * time.Hour)}
		all := hourlyCandles(48, 0)
		for i := len(all) - 1; i >= 0; i-- {
			cached.Candles = append(cached.Candles, all[i])
		}
		r, _, _ := newTestRefresher(t, 24, 5, &mockExchange{}, WithCache(&mockCache{data: cached}))
		require.NoError(t, r.Warm(context.Background()))

		snap, _ := r.Current()
		require.NotNil(t, snap)
		require.Equal(t, 24, snap.Dataset.Len())
		assert.Len(t, snap.Indicators, 24)
		assert.Equal(t, all[24:], snap.Dataset.Candles)
	})

	t.Run("nothing persisted", func(t *testing.T) {
		r, _, _ := newTestRefresher(t, 24, 5, &mockExchange{}, WithStore(&mockStore{}), WithCache(&mockCache{}))
		assert.ErrorIs(t, r.Warm(context.Background()), ports.ErrNotFound)
		snap, _ := r.Current()
		assert.Nil(t, snap)
	})

	t.Run("live fetch clears stale", func(t *testing.T) {
		ex := &mockExchange{script: []fetchResult{{candles: hourlyCandles(24, 1)}}}
		r, _, _ := newTestRefresher(t, 24, 5, ex, WithStore(&mockStore{load: stored}))
		require.NoError(t, r.Warm(context.Background()))
		require.NoError(t, r.Refresh(context.Background()))
		snap, st := r.Current()
		assert.Equal(t, hourlyCandles(24, 1), snap.Dataset.Candles)
		assert.False(t, st.Stale)

		// Warm is a no-op once live data exists.
		require.NoError(t, r.Warm(context.Background()))
		again, _ := r.Current()
		assert.Same(t, snap, again)
	})
}

func TestTick_PanicIsRecordedAsAttempt(t *testing.T) {
	store := &mockStore{}
	ex := &mockExchange{script: []fetchResult{{panic: true}}}
	r, _, _ := newTestRefresher(t, 24, 5, ex, WithStore(store))

	assert.NotPanics(t, func() { r.tick(context.Background()) })

	_, st := r.Current()
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, domain.PhaseFailed, st.Phase)

	log := store.attemptLog()
	require.Len(t, log, 1)
	assert.Equal(t, domain.OutcomeError, log[0].Outcome)
	assert.Contains(t, log[0].Error, "panicked")
	assert.NotEmpty(t, log[0].ID)
	assert.Equal(t, "BTC/USD", log[0].Symbol)
}

func TestCheckMarket(t *testing.T) {
	tests := []struct {
		name    string
		ex      *mockExchange
		wantErr []error
	}{
		{name: "listed", ex: &mockExchange{}},
		{
			name:    "unlisted symbol",
			ex:      &mockExchange{resolveErr: fmt.Errorf("ResolveSymbol failed: %w", ports.ErrUnknownSymbol)},
			wantErr: []error{ports.ErrInvalidSettings, ports.ErrUnknownSymbol},
		},
		{
			name:    "timeframe not served",
			ex:      &mockExchange{timeframesOK: []string{"4h"}},
			wantErr: []error{ports.ErrInvalidSettings},
		},
		{
			name:    "exchange down is not a settings problem",
			ex:      &mockExchange{resolveErr: fmt.Errorf("ResolveSymbol failed: %w", ports.ErrExchangeUnavailable)},
			wantErr: []error{ports.ErrExchangeUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRefresher(t, 24, 5, tt.ex)
			err := r.CheckMarket(context.Background())
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
			if !errors.Is(tt.wantErr[0], ports.ErrInvalidSettings) {
				assert.NotErrorIs(t, err, ports.ErrInvalidSettings)
			}
			assert.Zero(t, tt.ex.callCount(), "no candles are fetched")
		})
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{
		{panic: true},
		{err: fmt.Errorf("x: %w", ports.ErrExchangeUnavailable)},
		{candles: hourlyCandles(24, 0)},
	}}
	r, _, _ := newTestRefresher(t, 24, 5, ex, WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap, _ := r.Current()
		return snap != nil
	}, 2*time.Second, 5*time.Millisecond, "Run must survive a panicking adapter and keep ticking")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	calls := ex.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, ex.callCount(), "no fetches after cancellation")
}

func TestRun_FirstTickIsImmediate(t *testing.T) {
	ex := &mockExchange{script: []fetchResult{{candles: hourlyCandles(24, 0)}}}
	r, _, _ := newTestRefresher(t, 24, 5, ex, WithTickInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	assert.Eventually(t, func() bool { return ex.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCurrent_ReadersSeeCompleteDatasets(t *testing.T) {
	short, long := hourlyCandles(24, 0), hourlyCandles(48, 0)
	script := make([]fetchResult, 0, 40)
	for i := 0; i < 20; i++ {
		script = append(script, fetchResult{candles: short}, fetchResult{candles: long})
	}
	ex := &mockExchange{script: script}
	r, _, _ := newTestRefresher(t, 48, 5, ex)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap, _ := r.Current()
				if snap == nil {
					continue
				}
				n := snap.Dataset.Len()
				if n != 24 && n != 48 {
					t.Errorf("partial dataset of %d candles", n)
					return
				}
				if len(snap.Indicators) != n {
					t.Errorf("indicators (%d) not aligned with candles (%d)", len(snap.Indicators), n)
					return
				}
			}
		}()
	}
	for i := 0; i < 40; i++ {
		require.NoError(t, r.Refresh(context.Background()))
	}
	cancel()
	wg.Wait()
}
