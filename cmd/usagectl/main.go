package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "usagectl",
	Short: "Administer the usage monitor",
	Long: `usagectl manages access tokens for the usage monitor and submits
session transcripts from a client hook.

Token commands operate directly on the configured registry and need
TOKEN_SECRET_KEY plus the REGISTRY_BACKEND settings in the environment.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
