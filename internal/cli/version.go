package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X btcQuant/internal/cli.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "btcquant version %s\n", version)
		},
	}
}

// newSelfTestCmd checks that the binary starts and its command tree parses,
// without reading settings or touching the network.
func newSelfTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Print a fixed marker and exit; used as a deployment smoke check",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), ">>> btcquant self-test OK <<<")
		},
	}
}
