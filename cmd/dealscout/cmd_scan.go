package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dealscout/internal/scan"
	"dealscout/pkg/types"
)

var scanFlags struct {
	query      string
	sources    []string
	maxResults int
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan pass across the configured sources",
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&scanFlags.query, "query", "q", "", "Search query (required)")
	f.StringSliceVar(&scanFlags.sources, "sources", nil, "Source names to scan; default scans all")
	f.IntVar(&scanFlags.maxResults, "max-results", 0, "Per-source result cap; default from config")

	_ = scanCmd.MarkFlagRequired("query")
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Run(cmd.Context(), types.ScanRequest{
		Query:      scanFlags.query,
		Sources:    scanFlags.sources,
		MaxResults: scanFlags.maxResults,
	})
	out := cmd.OutOrStdout()
	if err != nil {
		// Total failure still has a per-source breakdown worth showing.
		if errors.Is(err, scan.ErrAllSourcesFailed) && report != nil {
			printStatuses(out, report)
		}
		return err
	}

	printStatuses(out, report)
	fmt.Fprintf(out, "\n%d records merged, %d new identifiers cached.\n\n",
		len(report.Records), report.NewIdentifiers)
	printCandidates(out, report)
	return nil
}
