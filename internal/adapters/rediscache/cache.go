// Package rediscache mirrors the latest dataset into Redis so other processes
// and restarts can read it without touching the exchange.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"

	"github.com/redis/go-redis/v9"
)

// Cache implements ports.SnapshotCache. A nil client turns every call into a miss.
type Cache struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	logger    ports.Logger
}

var _ ports.SnapshotCache = (*Cache)(nil)

// New returns a cache. A zero ttl defaults to one hour; an empty namespace to "btcquant:dataset".
func New(rdb *redis.Client, ttl time.Duration, namespace string, logger ports.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if namespace == "" {
		namespace = "btcquant:dataset"
	}
	return &Cache{rdb: rdb, ttl: ttl, namespace: namespace, logger: logger}
}

// NewClient builds a go-redis client for addr, or nil when addr is empty.
func NewClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

type cachedCandle struct {
	T int64   `json:"t"` // unix milliseconds
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type cachedDataset struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	FetchedAt int64          `json:"fetched_at"`
	Candles   []cachedCandle `json:"candles"`
}

func encode(ds *domain.Dataset) ([]byte, error) {
	out := cachedDataset{
		Symbol:    ds.Symbol,
		Timeframe: ds.Timeframe,
		FetchedAt: ds.FetchedAt.UnixMilli(),
		Candles:   make([]cachedCandle, len(ds.Candles)),
	}
	for i, c := range ds.Candles {
		out.Candles[i] = cachedCandle{T: c.Time.UnixMilli(), O: c.Open, H: c.High, L: c.Low, C: c.Close, V: c.Volume}
	}
	return json.Marshal(out)
}

func decode(b []byte) (*domain.Dataset, error) {
	var in cachedDataset
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	candles := make([]domain.Candle, len(in.Candles))
	for i, c := range in.Candles {
		candles[i] = domain.Candle{Time: time.UnixMilli(c.T).UTC(), Open: c.O, High: c.H, Low: c.L, Close: c.C, Volume: c.V}
	}
	ds := domain.NewDataset(in.Symbol, in.Timeframe, candles, 0, time.UnixMilli(in.FetchedAt).UTC())
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Put stores ds under its symbol/timeframe key with the configured TTL.
func (c *Cache) Put(ctx context.Context, ds *domain.Dataset) error {
	if c.rdb == nil {
		return nil
	}
	b, err := encode(ds)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(ds.Symbol, ds.Timeframe), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w: %w", ports.ErrDBConnection, err)
	}
	return nil
}

// Get returns the cached dataset or ports.ErrCacheMiss. Corrupt entries are deleted.
func (c *Cache) Get(ctx context.Context, symbol, timeframe string) (*domain.Dataset, error) {
	if c.rdb == nil {
		return nil, ports.ErrCacheMiss
	}
	key := c.key(symbol, timeframe)
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ports.ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get: %w: %w", ports.ErrDBConnection, err)
	}

	ds, err := decode(b)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn(ctx, "Dropping corrupt cache entry", ports.Fields{"key": key, "error": err.Error()})
		}
		_ = c.rdb.Del(ctx, key).Err()
		return nil, ports.ErrCacheMiss
	}
	return ds, nil
}

// Ping checks connectivity; a nil client is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Cache) key(symbol, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s", c.namespace, safe(symbol), safe(timeframe))
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
