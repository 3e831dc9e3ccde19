package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config    string
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "dealscout",
	Short: "Scan retail sources and surface resale arbitrage candidates",
	Long: "dealscout fans a search query across configured retail sources,\n" +
		"matches listings to reference prices by product identifier, and\n" +
		"reports the ones whose margin clears the configured threshold.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dealscout version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", "configs/config.yaml", "Path to configuration file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Override log format (text, json)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}
