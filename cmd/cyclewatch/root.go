package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cyclewatch",
	Short: "Index CI test cycle executions and compute their quality verdicts",
	Long: "Cyclewatch watches the builds of configured test cycles, indexes their\n" +
		"runs and scenario results into a local database, and computes a quality\n" +
		"verdict per execution from frozen per-severity thresholds.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cyclewatch.yaml", "configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
