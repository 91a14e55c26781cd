package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoiceocr/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoiceocr",
	Short: "Extract and reconcile invoice data from scanned documents",
	Long: `invoiceocr reads scanned invoices, extracts their fields with French-first
pattern rules, matches the supplier and the billed company against the reference
database, reconciles the amounts and grades the result.

Configuration comes from the environment (a .env file is loaded when present).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
