package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/dedup"
)

type analyzeOptions struct {
	filterOptions
	json bool
}

func newAnalyzeCmd(g *globalOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <input.pdf>",
		Short: "List duplicate images without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			logger := g.logger()
			doc, err := codec.Load(cmd.Context(), data, codec.WithLogger(logger))
			if err != nil {
				return err
			}
			report, err := dedup.New(cfg, dedup.WithLogger(logger)).Analyze(cmd.Context(), doc)
			if err != nil {
				return err
			}
			if opts.json {
				enc := json.NewEncoder(g.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(g.stdout, report)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r *dedup.Report) error {
	fmt.Fprintf(w, "candidates: %d  groups: %d  entries to rewrite: %d  reclaimable: %s\n",
		r.Candidates, len(r.Groups), r.RewrittenEntries, humanSize(r.BytesSaved))
	if len(r.Groups) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CANONICAL\tDUPLICATES\tBYTES\tUNREFERENCED")
	for _, g := range r.Groups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", g.Canonical, len(g.Redundant), g.ByteLength, len(g.Undiscovered))
	}
	return tw.Flush()
}
