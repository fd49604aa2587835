package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"btcQuant/config"
	"btcQuant/internal/adapters/binanceclient"
	"btcQuant/internal/adapters/krakenclient"
	"btcQuant/internal/app"
	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
	"btcQuant/internal/ratelimit"
)

// exchangeFactory builds the market data client; tests replace it.
var exchangeFactory = newExchange

func newExchange(cfg *config.Config, logger ports.Logger) (ports.MarketDataClient, error) {
	s := cfg.Settings
	limiter := ratelimit.New(s.RateLimitPerSecond, s.RateLimitBurst)

	switch strings.ToLower(s.Exchange) {
	case "kraken":
		client, err := krakenclient.New(krakenclient.Config{
			Timeout: s.RequestTimeout(),
			Limiter: limiter,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "binance":
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.BinanceAPIKey,
			SecretKey:  cfg.BinanceSecretKey,
			UseTestnet: cfg.BinanceTestnet,
			Timeout:    s.RequestTimeout(),
			Limiter:    limiter,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: exchange %q is not supported", ports.ErrInvalidSettings, s.Exchange)
	}
}

// fetchSnapshot runs a single refresh without persistence and returns the result.
func fetchSnapshot(ctx context.Context, opts *rootOptions) (*app.Refresher, *domain.Snapshot, error) {
	exchange, err := exchangeFactory(opts.cfg, opts.logger)
	if err != nil {
		return nil, nil, err
	}
	r, err := app.NewRefresher(opts.cfg.Settings, opts.logger, exchange)
	if err != nil {
		return nil, nil, err
	}
	if err := r.CheckMarket(ctx); err != nil {
		return nil, nil, err
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	snap, _ := r.Current()
	if snap == nil {
		// Refresh skipped the tick; cannot happen on a fresh refresher.
		return nil, nil, errors.New("no snapshot after refresh")
	}
	return r, snap, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
