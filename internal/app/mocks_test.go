package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"btcQuant/config"
	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) has(level *[]string, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range *level {
		if s == msg {
			return true
		}
	}
	return false
}

// mockExchange replays a script of results, one per FetchOHLCV call. When the
// script runs out the last entry repeats.
type mockExchange struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
	block  bool // wait for ctx instead of answering

	resolveErr   error
	timeframesOK []string // nil means every timeframe is served
}

type fetchResult struct {
	candles []domain.Candle
	err     error
	panic   bool
}

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) SupportsTimeframe(timeframe string) bool {
	if m.timeframesOK == nil {
		return true
	}
	for _, tf := range m.timeframesOK {
		if tf == timeframe {
			return true
		}
	}
	return false
}

func (m *mockExchange) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	return symbol, nil
}

func (m *mockExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	block := m.block
	var res fetchResult
	if len(m.script) > 0 {
		idx := n - 1
		if idx >= len(m.script) {
			idx = len(m.script) - 1
		}
		res = m.script[idx]
	}
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.panic {
		panic("adapter bug")
	}
	if res.err != nil {
		return nil, res.err
	}
	out := make([]domain.Candle, len(res.candles))
	copy(out, res.candles)
	return out, nil
}

func (m *mockExchange) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockStore struct {
	mu       sync.Mutex
	saved    []*domain.Dataset
	attempts []domain.Attempt
	load     *domain.Dataset
	saveErr  error
	loadErr  error
}

func (m *mockStore) SaveDataset(ctx context.Context, ds *domain.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, ds)
	return nil
}

func (m *mockStore) LoadDataset(ctx context.Context, symbol, timeframe string, limit int) (*domain.Dataset, error) {
	return m.load, m.loadErr
}

func (m *mockStore) RecordAttempt(ctx context.Context, a domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *mockStore) RecentAttempts(ctx context.Context, limit int) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Attempt, 0, len(m.attempts))
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.attempts[i])
	}
	return out, nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) attemptLog() []domain.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Attempt(nil), m.attempts...)
}

type mockCache struct {
	mu   sync.Mutex
	data *domain.Dataset
	puts int
	err  error
}

func (m *mockCache) Put(ctx context.Context, ds *domain.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.puts++
	m.data = ds
	return nil
}

func (m *mockCache) Get(ctx context.Context, symbol, timeframe string) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ports.ErrCacheMiss
	}
	return m.data, nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []*domain.Snapshot
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, snap *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, snap)
	return nil
}

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// hourlyCandles returns n ascending hourly candles starting at baseTime+offset hours.
func hourlyCandles(n, offset int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		p := 60000 + float64(offset+i)*10
		out[i] = domain.Candle{
			Time: baseTime.Add(time.Duration(offset+i) * time.Hour),
			Open: p, High: p + 20, Low: p - 20, Close: p + 5, Volume: 1.5,
		}
	}
	return out
}

func testSettings(lookback, threshold int) config.Settings {
	s := config.DefaultSettings()
	s.Lookback = lookback
	s.FailureThreshold = threshold
	s.RequestTimeoutSeconds = 1
	return s
}

var errBoom = errors.New("boom")
