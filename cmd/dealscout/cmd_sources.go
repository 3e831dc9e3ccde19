package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered sources and skipped definitions",
	RunE:  runSources,
}

func runSources(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	descriptors := a.registry.Descriptors()
	if len(descriptors) == 0 {
		fmt.Fprintln(out, "No sources registered.")
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tBASE URL")
		for _, d := range descriptors {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Kind, d.BaseURL)
		}
		tw.Flush()
	}

	if skipped := a.registry.Skipped(); len(skipped) > 0 {
		fmt.Fprintln(out, "\nSkipped definitions:")
		for _, s := range skipped {
			fmt.Fprintf(out, "  %s: %s\n", s.Name, s.Reason)
		}
	}
	return nil
}
