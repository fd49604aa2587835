package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"btcQuant/config"

	"github.com/spf13/cobra"
)

const (
	reportStampLayout  = "20060102_150405"
	reportSettingsFile = "config_used.yml"
)

// now is replaced in tests.
var now = time.Now

func newReportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report [dir]",
		Short: "Record the settings in use under <dir>/<timestamp>/",
		Long: `Create <dir>/<timestamp>/ (dir defaults to logging.dir from the
settings file, then "logs") and write the effective settings to config_used.yml so a run can be reproduced later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			s := opts.cfg.Settings
			base := s.Logging.Dir
			if len(args) == 1 && args[0] != "" {
				base = args[0]
			}
			if base == "" {
				base = config.DefaultLogDir
			}
			dir := filepath.Join(base, now().In(s.Location()).Format(reportStampLayout))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create report directory: %w", err)
			}
			path := filepath.Join(dir, reportSettingsFile)
			if err := config.SaveSettings(path, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", path)
			return nil
		},
	}
}
