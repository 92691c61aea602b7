package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wudi/pdfshrink/dedup"
	"github.com/wudi/pdfshrink/observability"
)

type globalOptions struct {
	verbose bool
	stdout  io.Writer
	stderr  io.Writer
}

// filterOptions are shared by every subcommand that groups images.
type filterOptions struct {
	minImageBytes int
	prune         string
}

func (f *filterOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.minImageBytes, "min-image-bytes", dedup.DefaultMinImageBytes, "Ignore image streams smaller than this many bytes")
	cmd.Flags().StringVar(&f.prune, "prune", "safe", "Prune policy for duplicates: safe or always")
}

func (f *filterOptions) config() (dedup.Config, error) {
	policy, err := dedup.ParsePrunePolicy(f.prune)
	if err != nil {
		return dedup.Config{}, err
	}
	cfg := dedup.Config{MinImageBytes: f.minImageBytes, Prune: policy}
	return cfg, cfg.Validate()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "pdfshrink",
		Short:         "Merge duplicate embedded images in PDF files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug details to stderr")
	root.AddCommand(newShrinkCmd(g), newAnalyzeCmd(g))
	return root
}

func (g *globalOptions) logger() observability.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: level})
	return observability.NewSlogLogger(slog.New(h))
}

// stdoutIsTerminal reports whether binary output on stdout would land on a
// terminal.
func (g *globalOptions) stdoutIsTerminal() bool {
	f, ok := g.stdout.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
