package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "decency",
	Short: "Decency content filter - spam/virus disposition pipeline for an MTA",
	Long: `Decency sits between an MTA and final delivery. This binary is the
Content Filter daemon: it spools a fully-received message, correlates it
with prior Policy-stage scoring, runs it through an ordered chain of filter
modules, and re-injects, bounces, quarantines, deletes, or tags it
according to the configured disposition policy.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Decency content filter")
		fmt.Println("Use 'decency --help' for usage information")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(trainCmd)
}
