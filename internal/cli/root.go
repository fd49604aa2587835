// Package cli wires configuration, adapters and the refresher into the
// btcquant command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"btcQuant/config"
	"btcQuant/internal/adapters/logger"
	"btcQuant/internal/ports"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	settingsPath string
	logLevel     string

	cfg    *config.Config
	logger ports.Logger
}

// NewRootCmd builds the command tree. Without a subcommand it fetches one
// snapshot and prints the newest rows and the signal.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "btcquant",
		Short: "BTC market data refresher and indicator backend",
		Long: `btcquant polls an exchange for BTC OHLCV candles, computes SMA, EMA,
RSI and MACD over the window and classifies the market regime.

Run without a subcommand to print one snapshot, or use "serve" to keep the
dataset fresh behind an HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", "", "settings file (default $SETTINGS_PATH or "+config.DefaultSettingsPath+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error (default $LOG_LEVEL)")

	cmd.AddCommand(
		newServeCmd(opts),
		newLiveCmd(opts),
		newFetchCmd(opts),
		newReportCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
		newSelfTestCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// load reads the environment and settings file once, applying flag overrides.
// Interactive commands get a console logger; serve gets JSON.
func (o *rootOptions) load(console bool) error {
	if o.settingsPath != "" {
		if err := os.Setenv("SETTINGS_PATH", o.settingsPath); err != nil {
			return err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = logger.ParseLevel(o.logLevel)
	}
	o.cfg = cfg

	if console {
		o.logger = logger.NewConsole(cfg.LogLevel, "btcquant")
	} else {
		o.logger = logger.New(cfg.LogLevel, "btcquant")
	}
	o.logger.Debug(context.Background(), "Configuration loaded", ports.Fields{
		"settingsPath": cfg.SettingsPath,
		"exchange":     cfg.Settings.Exchange,
		"symbol":       cfg.Settings.Symbol,
		"timeframe":    cfg.Settings.Timeframe,
		"level":        cfg.LogLevel.String(),
	})
	return nil
}
