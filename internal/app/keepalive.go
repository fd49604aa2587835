package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"btcQuant/internal/metrics"
	"btcQuant/internal/ports"
)

// KeepAlive pings a URL on a fixed interval so hosts that idle-stop quiet
// processes keep this one running. Ping failures are only logged.
type KeepAlive struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   ports.Logger
	metrics  *metrics.Metrics
}

// NewKeepAlive builds a pinger. client may be nil.
func NewKeepAlive(url string, interval time.Duration, client *http.Client, logger ports.Logger, m *metrics.Metrics) (*KeepAlive, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: keep-alive URL must be set", ports.ErrInvalidSettings)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: keep-alive interval must be positive", ports.ErrInvalidSettings)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for keep-alive")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeepAlive{url: url, interval: interval, client: client, logger: logger, metrics: m}, nil
}

// Ping issues one GET. Any non-2xx status is an error.
func (k *KeepAlive) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("keep-alive request: %w: %w", ports.ErrInvalidRequest, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("keep-alive ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("keep-alive ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Run pings after every interval until ctx is cancelled.
func (k *KeepAlive) Run(ctx context.Context) error {
	k.logger.Info(ctx, "Keep-alive started", ports.Fields{"url": k.url, "interval": k.interval.String()})
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info(ctx, "Keep-alive stopped")
			return nil
		case <-ticker.C:
			if err := k.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				k.metrics.ObservePing("error")
				k.logger.Warn(ctx, "Keep-alive ping failed", ports.Fields{"url": k.url, "error": err.Error()})
				continue
			}
			k.metrics.ObservePing("ok")
			k.logger.Debug(ctx, "Keep-alive ping ok", ports.Fields{"url": k.url})
		}
	}
}
