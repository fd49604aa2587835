package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/utils"

	"github.com/spf13/cobra"
)

const (
	printTimeLayout = "2006-01-02 15:04:05"
	defaultTailRows = 5
)

func runSnapshot(cmd *cobra.Command, opts *rootOptions) error {
	if err := opts.load(true); err != nil {
		return err
	}
	r, snap, err := fetchSnapshot(cmd.Context(), opts)
	if err != nil {
		return err
	}
	loc := opts.cfg.Settings.Location()
	out := cmd.OutOrStdout()
	if err := printTail(out, snap, defaultTailRows, loc); err != nil {
		return err
	}
	zone := ""
	if n := len(snap.Indicators); n > 0 {
		zone = r.Strategy().RSIZone(snap.Indicators[n-1])
	}
	fmt.Fprintf(out, "Signal: %s at %s", snap.Signal, snap.UpdatedAt.In(loc).Format(printTimeLayout))
	if zone != "" {
		fmt.Fprintf(out, " (RSI %s)", zone)
	}
	fmt.Fprintln(out)
	return nil
}

func newLiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Fetch once and print the current signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			_, snap, err := fetchSnapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.Signal)
			return nil
		},
	}
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch once and write candles with indicators to CSV",
		Long: `Fetch the newest lookback candles, compute indicators and write them
to a CSV file. The default file name is btc_<timeframe>_signals.csv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			_, snap, err := fetchSnapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = utils.SignalsCSVName(snap.Dataset.Timeframe)
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			if err := utils.WriteSnapshotCSVFile(path, snap, opts.cfg.Settings.Location()); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d candles to %s (signal %s)\n", snap.Dataset.Len(), path, snap.Signal)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV path")
	return cmd
}

// printTail writes the newest n rows as an aligned table.
func printTail(w io.Writer, snap *domain.Snapshot, n int, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\tclose\tSMA50\tSMA200\tEMA50\tEMA200\tRSI\tMACD\tMACDSignal\t")

	candles := snap.Dataset.Candles
	start := max(len(candles)-n, 0)
	for i := start; i < len(candles); i++ {
		c := candles[i]
		var ind domain.IndicatorRow
		if i < len(snap.Indicators) {
			ind = snap.Indicators[i]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			c.Time.In(loc).Format(printTimeLayout),
			num(c.Close), num(ind.SMA50), num(ind.SMA200), num(ind.EMA50), num(ind.EMA200),
			num(ind.RSI), num(ind.MACD), num(ind.MACDSignal),
		)
	}
	return tw.Flush()
}

func num(v float64) string {
	if p := utils.Nullable(v); p != nil {
		return strconv.FormatFloat(*p, 'f', 2, 64)
	}
	return "NaN"
}
