// Command mpesactl is an operator tool for the checkout service: it exercises
// the Daraja gateway with the service's own credentials (token, push, query)
// and manages the Postgres schema.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "mpesactl",
		Short:         "mpesactl - M-Pesa checkout diagnostics and schema management",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ce exitCoder
		if errors.As(err, &ce) {
			os.Exit(ce.ExitCode())
		}
		os.Exit(1)
	}
}

type exitCoder interface{ ExitCode() int }
