package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfshrink/dedup"
)

type shrinkOptions struct {
	filterOptions
	output string
	force  bool
}

func newShrinkCmd(g *globalOptions) *cobra.Command {
	opts := &shrinkOptions{}
	cmd := &cobra.Command{
		Use:   "shrink <input.pdf>",
		Short: "Write a copy of a PDF with duplicate images merged",
		Long: `Finds image streams with byte-identical content, points every page at one
copy and drops the others. Without -o the result goes to stdout, or to
<input>.shrunk.pdf when stdout is a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShrink(cmd, g, opts, args[0])
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing output file")
	return cmd
}

func runShrink(cmd *cobra.Command, g *globalOptions, opts *shrinkOptions, input string) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	out := opts.output
	if out == "" && g.stdoutIsTerminal() {
		out = strings.TrimSuffix(input, ".pdf") + ".shrunk.pdf"
	}
	if out != "" && !opts.force {
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s exists, use --force to overwrite", out)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	result, report, err := dedup.Shrink(cmd.Context(), data, cfg, dedup.WithLogger(g.logger()))
	if err != nil {
		return err
	}

	if out == "" {
		if _, err := g.stdout.Write(result); err != nil {
			return err
		}
	} else if err := os.WriteFile(out, result, 0o644); err != nil {
		return err
	}

	in, got := int64(len(data)), int64(len(result))
	pct := 0.0
	if in > 0 {
		pct = float64(in-got) / float64(in) * 100
	}
	fmt.Fprintf(g.stderr, "%s -> %s (%d duplicate images removed, %.1f%% smaller)\n",
		humanSize(in), humanSize(got), report.PrunedObjects, pct)
	return nil
}
