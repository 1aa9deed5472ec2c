package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "cascade",
		Short: "Cascade - propagate API changes across repositories",
		Long: `Cascade propagates one API or schema change across many repositories.
It delegates the code transformation to an agent CLI, isolates each
repo's changes on a branch, runs tests with bounded repair retries,
and reports per-repo results.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "path to cascade.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
