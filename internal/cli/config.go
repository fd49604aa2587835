package cli

import (
	"fmt"

	"btcQuant/config"

	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate the settings file",
		Long: `Manage conf/settings.yml.

Subcommands:
  init     - write a settings file with default values
  validate - check an existing settings file

Examples:
  btcquant config init --output conf/settings.yml
  btcquant config validate --file conf/settings.yml`,
	}

	var output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && fileExists(output) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}
			if err := config.SaveSettings(output, config.DefaultSettings()); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default settings: %s\n", output)
			fmt.Fprintf(out, "  Run with: btcquant --settings %s serve\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", config.DefaultSettingsPath, "output settings file path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var file string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = opts.settingsPath
			}
			if path == "" {
				path = config.DefaultSettingsPath
			}
			s, err := config.LoadSettings(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Settings valid: %s\n", path)
			fmt.Fprintf(out, "  Exchange: %s  Symbol: %s  Timeframe: %s\n", s.Exchange, s.Symbol, s.Timeframe)
			fmt.Fprintf(out, "  Lookback: %d  Refresh: %s  Failure threshold: %d\n", s.Lookback, s.RefreshInterval(), s.FailureThreshold)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&file, "file", "f", "", "settings file to check (default --settings)")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
