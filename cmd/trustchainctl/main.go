// Command trustchainctl is the operator-facing client for a running
// trustchaind: it inspects a local redo log directly for status, and
// talks the mesh wire protocol for everything that requires a live
// connection to a root server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/trustchain/internal/config"
)

var jsonOutput bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trustchainctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trustchainctl",
		Short:         "Inspect and drive a chain-of-trust event store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Initialize()
		},
	}
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON instead of a formatted report")
	cmd.AddCommand(
		newConfigCmd(),
		newStatusCmd(),
		newSubscribeCmd(),
	)
	return cmd
}
