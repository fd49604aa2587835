package krakenclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
	"btcQuant/internal/ratelimit"
)

const baseURLProduction = "https://api.kraken.com"

// intervals maps timeframe codes to Kraken's interval minutes.
var intervals = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
	"1w":  10080,
}

// baseAliases lists alternative base codes tried when a symbol is not listed.
var baseAliases = map[string][]string{
	"BTC": {"XBT"},
	"XBT": {"BTC"},
}

// Config holds configuration specific to the Kraken client adapter.
type Config struct {
	BaseURL    string        // defaults to the public production API
	HTTPClient *http.Client  // defaults to a client with Timeout
	Timeout    time.Duration // per request; defaults to 15s
	Limiter    *ratelimit.Limiter
	Logger     ports.Logger
}

// Client implements ports.MarketDataClient against Kraken's public REST API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  ports.Logger

	mu      sync.Mutex
	markets map[string]string // "XBT/USD" -> request pair name "XBTUSD"
}

var _ ports.MarketDataClient = (*Client)(nil)

// New creates a new Kraken client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Kraken client")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLProduction
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}, nil
}

// Name returns "kraken".
func (c *Client) Name() string { return "kraken" }

type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type assetPair struct {
	Altname string `json:"altname"`
	Wsname  string `json:"wsname"`
}

// loadMarkets fetches the asset pair listing once and caches it.
func (c *Client) loadMarkets(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markets != nil {
		return c.markets, nil
	}

	var pairs map[string]assetPair
	if err := c.get(ctx, "LoadMarkets", "/0/public/AssetPairs", nil, &pairs); err != nil {
		return nil, err
	}
	markets := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p.Wsname == "" || p.Altname == "" {
			continue
		}
		markets[strings.ToUpper(p.Wsname)] = p.Altname
	}
	c.markets = markets
	c.logger.Debug(ctx, "Kraken markets loaded", ports.Fields{"pairs": len(markets)})
	return markets, nil
}

// SupportsTimeframe reports whether Kraken offers an OHLC interval for timeframe.
func (c *Client) SupportsTimeframe(timeframe string) bool {
	_, ok := intervals[timeframe]
	return ok
}

// ResolveSymbol returns the listed form of symbol, trying BTC/XBT aliases for the base.
func (c *Client) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	markets, err := c.loadMarkets(ctx)
	if err != nil {
		return "", err
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := markets[sym]; ok {
		return sym, nil
	}
	base, quote, _ := strings.Cut(sym, "/")
	for _, alt := range baseAliases[base] {
		candidate := alt
		if quote != "" {
			candidate = alt + "/" + quote
		}
		if _, ok := markets[candidate]; ok {
			c.logger.Debug(ctx, "Symbol resolved through base alias", ports.Fields{"requested": symbol, "resolved": candidate})
			return candidate, nil
		}
	}
	return "", fmt.Errorf("ResolveSymbol failed: %w: %q is not available on kraken", ports.ErrUnknownSymbol, symbol)
}

// FetchOHLCV returns the newest limit candles for symbol/timeframe in ascending order.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit < 1 {
		return nil, fmt.Errorf("FetchOHLCV failed: %w: limit must be >= 1, got %d", ports.ErrInvalidRequest, limit)
	}
	minutes, ok := intervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("FetchOHLCV failed: %w: %q", ports.ErrUnsupportedInterval, timeframe)
	}
	resolved, err := c.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	markets, err := c.loadMarkets(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("pair", markets[resolved])
	q.Set("interval", strconv.Itoa(minutes))

	var result map[string]json.RawMessage
	if err := c.get(ctx, "FetchOHLCV", "/0/public/OHLC", q, &result); err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("FetchOHLCV failed: %w: decode rows: %w", ports.ErrUnknown, err)
		}
		break
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("FetchOHLCV failed: %w: %w", ports.ErrUnknown, err)
		}
		candles = append(candles, candle)
	}
	// Kraken always answers with up to 720 rows.
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	c.logger.Debug(ctx, "Kraken OHLC fetched", ports.Fields{
		"symbol": resolved, "timeframe": timeframe, "rows": len(rows), "kept": len(candles),
	})
	return candles, nil
}

// parseRow decodes [time, open, high, low, close, vwap, volume, count].
func parseRow(row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 7 {
		return domain.Candle{}, fmt.Errorf("OHLC row has %d fields, want 8", len(row))
	}
	var ts int64
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return domain.Candle{}, fmt.Errorf("parse time %s: %w", row[0], err)
	}
	fields := [5]float64{}
	for i, idx := range []int{1, 2, 3, 4, 6} {
		var s string
		if err := json.Unmarshal(row[idx], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("parse field %d %s: %w", idx, row[idx], err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("parse field %d %q: %w", idx, s, err)
		}
		fields[i] = v
	}
	return domain.Candle{
		Time:   time.Unix(ts, 0).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// get performs one rate-limited GET and decodes the envelope's result into out.
func (c *Client) get(ctx context.Context, operation, path string, q url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return c.handleError(ctx, err, operation)
	}
	defer res.Body.Close()

	if err := statusError(res, operation); err != nil {
		c.logger.Warn(ctx, "Kraken request rejected", ports.Fields{
			"operation": operation, "status": res.StatusCode, "error": err.Error(),
		})
		return err
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return c.handleError(ctx, fmt.Errorf("decode response: %w", err), operation)
	}
	if len(env.Error) > 0 {
		err := apiError(env.Error, operation)
		c.logger.Warn(ctx, "Kraken API returned errors", ports.Fields{
			"operation": operation, "errors": env.Error,
		})
		return err
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s failed: %w: decode result: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Debug(ctx, "Kraken request completed", ports.Fields{
		"operation": operation, "path": path, "duration": time.Since(start).String(),
	})
	return nil
}

// statusError maps non-2xx HTTP statuses onto ports errors.
func statusError(res *http.Response, operation string) error {
	if res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	cause := fmt.Errorf("kraken http %d: %s", res.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s failed: %w", operation, &ports.RateLimitError{
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After"), time.Now()),
			Cause:      cause,
		})
	case res.StatusCode >= 500:
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, cause)
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNotFound, cause)
	default:
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrInvalidRequest, cause)
	}
}

// parseRetryAfter accepts either delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// apiError maps Kraken's "<severity><category>:<message>" error strings.
func apiError(msgs []string, operation string) error {
	cause := errors.New(strings.Join(msgs, "; "))
	for _, m := range msgs {
		switch {
		case strings.Contains(m, "Rate limit exceeded"), strings.Contains(m, "Too many requests"):
			return fmt.Errorf("%s failed: %w", operation, &ports.RateLimitError{Cause: cause})
		case strings.HasPrefix(m, "EService:"):
			return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, cause)
		case strings.Contains(m, "Unknown asset pair"):
			return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknownSymbol, cause)
		case strings.Contains(m, "Invalid arguments"):
			return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrInvalidRequest, cause)
		}
	}
	return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, cause)
}

// handleError translates transport failures into ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	fields := ports.Fields{"operation": operation, "originalError": err.Error()}

	var finalErr error
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		finalErr = fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrExchangeUnavailable, ports.ErrTimeout, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed with transport error", operation), fields)
	return finalErr
}
