package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/conneroisu/splitpack/internal/bundler"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/metrics"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the project once",
	Long: `Build the project once and replace the output directory with the result.

Examples:
  splitpack build                        # Build with .splitpack.yml
  splitpack build --stats                # Also write stats.json
  splitpack build --minify=false         # Keep emitted code readable
  splitpack build --clean-cache          # Transform every module again
  splitpack build --metrics-file b.prom  # Write Prometheus textfile metrics`,
	RunE: runBuild,
}

var (
	buildMetricsFile string
	buildCleanCache  bool
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	kindColor    = color.New(color.FgCyan)
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildMetricsFile, "metrics-file", "", "write build metrics in Prometheus text format to this file")
	buildCmd.Flags().BoolVar(&buildCleanCache, "clean-cache", false, "drop the transform cache before building")
	buildCmd.Flags().StringP("output", "o", "", "output directory")
	buildCmd.Flags().Bool("stats", false, "write stats.json next to the manifest")
	buildCmd.Flags().Bool("minify", true, "minify emitted scripts and stylesheets")

	bindFlags(buildCmd.Flags(), map[string]string{
		"output": "output.dir",
		"stats":  "output.stats",
		"minify": "output.minify",
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	m := metrics.New()
	bctx, err := bundler.New(cfg, bundler.WithLogger(logger), bundler.WithMetrics(m))
	if err != nil {
		return err
	}
	defer bctx.Close()

	if buildCleanCache {
		if err := bctx.ClearCache(); err != nil {
			return err
		}
	}

	res, buildErr := bctx.Build(cmd.Context())

	if buildMetricsFile != "" {
		if err := m.WriteToTextfile(buildMetricsFile); err != nil {
			logger.Warn(cmd.Context(), err, "Failed to write metrics file", "path", buildMetricsFile)
		}
	}

	out := cmd.OutOrStdout()
	if buildErr != nil {
		failureColor.Fprintln(out, failureHeadline(buildErr))
		return buildErr
	}
	printSummary(out, res, cfg.Root, cfg.Output.Dir)

	return nil
}

// failureHeadline names the class of a failed pass.
func failureHeadline(err error) string {
	switch {
	case errors.IsResolutionError(err):
		return "✗ Build failed: unresolved import"
	case errors.IsTransformError(err):
		return "✗ Build failed: transform error"
	case errors.IsConstraintViolation(err):
		return "✗ Build failed: invalid chunk constraints"
	default:
		return "✗ Build failed"
	}
}

// printSummary writes one line per chunk in load order, then warnings and
// totals.
func printSummary(out io.Writer, res *bundler.Result, root, outDir string) {
	p := message.NewPrinter(language.English)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tKIND\tMODULES\tJS\tCSS")
	for _, c := range res.Chunks.Chunks {
		file, ok := res.Manifest.Chunks[c.Name]
		if !ok {
			continue
		}
		css := "-"
		if file.CSS != "" {
			css = p.Sprintf("%d B", file.CSSSize)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			c.Name, kindColor.Sprint(file.Kind), len(file.Modules), p.Sprintf("%d B", file.Size), css)
	}
	_ = tw.Flush()

	for _, w := range res.Warnings {
		warningColor.Fprintf(out, "warning: %s\n", w.String())
	}

	successColor.Fprintf(out, "✓ Built %s in %v\n",
		p.Sprintf("%d modules into %d chunks, %d bytes", res.Graph.Len(), len(res.Manifest.Chunks), res.Manifest.TotalBytes()),
		res.Duration.Round(time.Millisecond))
	if rel, err := filepath.Rel(root, outDir); err == nil {
		outDir = rel
	}
	fmt.Fprintf(out, "  output: %s\n", outDir)
}
