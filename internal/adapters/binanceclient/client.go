package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
	"btcQuant/internal/ratelimit"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	maxKlineLimit = 1000
)

var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true,
}

// Base aliases mirror the Kraken adapter; Binance lists USD pairs against USDT.
var (
	baseAliases  = map[string][]string{"BTC": {"XBT"}, "XBT": {"BTC"}}
	quoteAliases = map[string][]string{"USD": {"USDT"}}
)

// Client implements ports.MarketDataClient using the go-binance spot client.
type Client struct {
	spotClient *binance.Client
	limiter    *ratelimit.Limiter
	logger     ports.Logger

	mu      sync.Mutex
	markets map[string]string // "BTC/USDT" -> "BTCUSDT"
}

var _ ports.MarketDataClient = (*Client)(nil)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // overrides the production/testnet URL
	Timeout    time.Duration
	Limiter    *ratelimit.Limiter
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global binance.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	if cfg.Timeout > 0 {
		// NewClient shares http.DefaultClient; never mutate it.
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.Logger.Debug(context.Background(), "Binance client configured", ports.Fields{"baseURL": client.BaseURL})

	return &Client{
		spotClient: client,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}, nil
}

// Name returns "binance".
func (c *Client) Name() string { return "binance" }

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := ports.Fields{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var finalErr error
		switch apiErr.Code {
		case -1003: // Too many requests; also sent with HTTP 418 IP bans
			finalErr = fmt.Errorf("%s failed: %w", operation, &ports.RateLimitError{Cause: err})
		case -1001, -1006, -1007, -1008: // Disconnected, unexpected response, timeout, server busy
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
		case -1021: // Timestamp for this request is outside of the recvWindow
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
		case -1120, -1122: // Invalid interval
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnsupportedInterval, err)
		case -1121: // Invalid symbol
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknownSymbol, err)
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrInvalidRequest, err)
		case 0: // Body was not a Binance error payload, e.g. a gateway page
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
		default:
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		finalErr = fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrExchangeUnavailable, ports.ErrTimeout, err)
	default:
		// Connection refused/reset and unparseable responses all mean the exchange is unreachable.
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// loadMarkets fetches exchange info once and indexes trading symbols by BASE/QUOTE.
func (c *Client) loadMarkets(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markets != nil {
		return c.markets, nil
	}

	op := "LoadMarkets"
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	info, err := c.spotClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	markets := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		markets[s.BaseAsset+"/"+s.QuoteAsset] = s.Symbol
	}
	c.markets = markets
	c.logger.Debug(ctx, op+" successful", ports.Fields{"symbols": len(markets)})
	return markets, nil
}

// SupportsTimeframe reports whether Binance offers a kline interval for timeframe.
func (c *Client) SupportsTimeframe(timeframe string) bool {
	return supportedIntervals[timeframe]
}

// ResolveSymbol returns the listed BASE/QUOTE form of symbol, trying base and quote aliases.
func (c *Client) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	markets, err := c.loadMarkets(ctx)
	if err != nil {
		return "", err
	}
	base, quote, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(symbol)), "/")

	bases := append([]string{base}, baseAliases[base]...)
	quotes := append([]string{quote}, quoteAliases[quote]...)
	for _, q := range quotes {
		for _, b := range bases {
			candidate := b + "/" + q
			if _, ok := markets[candidate]; ok {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("ResolveSymbol failed: %w: %q is not available on binance", ports.ErrUnknownSymbol, symbol)
}

// FetchOHLCV retrieves the newest limit klines for symbol/timeframe.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	op := "FetchOHLCV"
	if limit < 1 {
		return nil, fmt.Errorf("%s failed: %w: limit must be >= 1, got %d", op, ports.ErrInvalidRequest, limit)
	}
	if !supportedIntervals[timeframe] {
		return nil, fmt.Errorf("%s failed: %w: %q", op, ports.ErrUnsupportedInterval, timeframe)
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	resolved, err := c.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	markets, err := c.loadMarkets(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	binanceKlines, err := c.spotClient.NewKlinesService().
		Symbol(markets[resolved]).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	candles := make([]domain.Candle, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		candle, err := translateBinanceKline(bk)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrUnknown, err)
		}
		candles = append(candles, candle)
	}
	c.logger.Debug(ctx, op+" successful", ports.Fields{"symbol": resolved, "timeframe": timeframe, "candles": len(candles)})
	return candles, nil
}

// translateBinanceKline converts a go-binance kline into a domain candle.
func translateBinanceKline(bk *binance.Kline) (domain.Candle, error) {
	parse := func(name, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s %q: %w", name, v, err)
		}
		return f, nil
	}
	var (
		c   domain.Candle
		err error
	)
	c.Time = time.UnixMilli(bk.OpenTime).UTC()
	if c.Open, err = parse("open", bk.Open); err != nil {
		return domain.Candle{}, err
	}
	if c.High, err = parse("high", bk.High); err != nil {
		return domain.Candle{}, err
	}
	if c.Low, err = parse("low", bk.Low); err != nil {
		return domain.Candle{}, err
	}
	if c.Close, err = parse("close", bk.Close); err != nil {
		return domain.Candle{}, err
	}
	if c.Volume, err = parse("volume", bk.Volume); err != nil {
		return domain.Candle{}, err
	}
	return c, nil
}
