package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elitemodel/backoffice/internal/version"
)

var configPathFlag string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backoffice",
		Short: "Elite back office - application payments and reconciliation",
		Long: `Elite back office service.

Serves the application and payment endpoints, polls the bank notification
mailbox on a schedule and marks applications whose fee has arrived as accepted.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPathFlag, "config", ".", "Directory containing config.yaml, or a YAML file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newFeeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "backoffice %s\n", version.Full())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
