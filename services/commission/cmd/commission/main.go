package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "commission",
		Short:         "Referral commission, settlement and withdrawal service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("PQ_CONFIG"), "config file path")

	root.AddCommand(
		newServeCommand(&cfgFile),
		newSettleCommand(&cfgFile),
		newExportCommand(&cfgFile),
		newMigrateCommand(&cfgFile),
	)
	return root
}
