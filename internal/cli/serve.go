package cli

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"btcQuant/internal/adapters/httpapi"
	"btcQuant/internal/adapters/kafkapub"
	"btcQuant/internal/adapters/rediscache"
	"btcQuant/internal/adapters/sqlite"
	"btcQuant/internal/app"
	"btcQuant/internal/metrics"
	"btcQuant/internal/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the dataset fresh and serve it over HTTP",
		Long: `Warm-start from the last persisted dataset, then refresh on the
configured interval while serving /healthz, /api/* and /metrics.
SIGINT or SIGTERM stops every task and closes the stores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(false); err != nil {
				return err
			}
			if addr != "" {
				opts.cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $HTTP_ADDR or :8501)")
	return cmd
}

// task is one long-running component of serve.
type task struct {
	name string
	run  func(context.Context) error
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, log := opts.cfg, opts.logger
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	exchange, err := exchangeFactory(cfg, log)
	if err != nil {
		return err
	}

	store, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(context.Background(), err, "Error closing dataset store")
		}
	}()

	refresherOpts := []app.Option{app.WithStore(store), app.WithMetrics(m)}

	if rdb := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); rdb != nil {
		cache := rediscache.New(rdb, cfg.RedisTTL, "", log)
		defer cache.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := cache.Ping(pingCtx); err != nil {
			log.Warn(ctx, "Redis not reachable; cache writes will be retried each refresh", ports.Fields{"addr": cfg.RedisAddr, "error": err.Error()})
		}
		cancel()
		refresherOpts = append(refresherOpts, app.WithCache(cache))
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafkapub.New(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		refresherOpts = append(refresherOpts, app.WithPublisher(pub))
	} else {
		refresherOpts = append(refresherOpts, app.WithPublisher(kafkapub.Nop{}))
	}

	refresher, err := app.NewRefresher(cfg.Settings, log, exchange, refresherOpts...)
	if err != nil {
		return err
	}
	if err := refresher.CheckMarket(ctx); err != nil {
		if errors.Is(err, ports.ErrInvalidSettings) {
			return err
		}
		log.Warn(ctx, "Could not confirm market listing; continuing", ports.Fields{"error": err.Error()})
	}
	if err := refresher.Warm(ctx); err != nil && !errors.Is(err, ports.ErrNotFound) {
		log.Warn(ctx, "Warm start failed; waiting for first live fetch", ports.Fields{"error": err.Error()})
	}

	strat := refresher.Strategy()
	server, err := httpapi.New(httpapi.Config{
		Reader:   refresher,
		Attempts: store,
		Gatherer: reg,
		RSIZone:  strat.RSIZone,
		Location: cfg.Settings.Location(),
		Logger:   log,
	})
	if err != nil {
		return err
	}

	tasks := []task{
		{name: "refresher", run: refresher.Run},
		{name: "http", run: func(ctx context.Context) error { return server.Run(ctx, cfg.HTTPAddr) }},
	}
	if cfg.KeepAliveURL != "" {
		ka, err := app.NewKeepAlive(cfg.KeepAliveURL, cfg.KeepAliveInterval, nil, log, m)
		if err != nil {
			return err
		}
		tasks = append(tasks, task{name: "keepalive", run: ka.Run})
	}

	return supervise(ctx, log, tasks)
}

// supervise runs every task until ctx is cancelled or one of them fails,
// then cancels the rest and waits. It returns the first task error.
func supervise(ctx context.Context, log ports.Logger, tasks []task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if err := t.run(ctx); err != nil {
				log.Error(ctx, err, "Task failed; shutting down", ports.Fields{"task": t.name})
				once.Do(func() { firstErr = err })
				cancel()
			}
		}(t)
	}

	<-ctx.Done()
	log.Info(context.Background(), "Shutting down")
	wg.Wait()
	return firstErr
}
