package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/splitpack/internal/bundler"
	"github.com/conneroisu/splitpack/internal/metrics"
	"github.com/conneroisu/splitpack/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild whenever a source file changes",
	Long: `Build once, then watch the project root and rebuild after every batch of
changes. Rebuilds reuse the in-memory transform cache, so only changed
modules are transformed again. A failed rebuild leaves the previous output
in place.

Examples:
  splitpack watch                    # Watch with the default debounce
  splitpack watch --debounce 1s      # Wait longer for editors that save in steps
  splitpack watch --ext .ts,.css     # Only rebuild for these file types`,
	RunE: runWatch,
}

var (
	watchDebounce    time.Duration
	watchMetricsFile string
	watchExtensions  []string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "quiet period before a rebuild")
	watchCmd.Flags().StringVar(&watchMetricsFile, "metrics-file", "", "rewrite Prometheus text metrics to this file after every build")
	watchCmd.Flags().StringSliceVar(&watchExtensions, "ext", nil, "only rebuild when files with these extensions change")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
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

	out := cmd.OutOrStdout()
	rebuild := func(ctx context.Context) {
		res, err := bctx.Build(ctx)
		if watchMetricsFile != "" {
			if werr := m.WriteToTextfile(watchMetricsFile); werr != nil {
				logger.Warn(ctx, werr, "Failed to write metrics file", "path", watchMetricsFile)
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				failureColor.Fprintf(out, "%s: %v\n", failureHeadline(err), err)
			}
			return
		}
		printSummary(out, res, cfg.Root, cfg.Output.Dir)
	}

	rebuild(ctx)

	fw, err := watcher.NewFileWatcher(watchDebounce, logger, cfg.Output.Dir, cfg.Transform.CacheDir)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoEditorFilter)
	if len(watchExtensions) > 0 {
		fw.AddFilter(watcher.ExtensionFilter(normalizeExts(watchExtensions)...))
	}
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		for _, e := range events {
			logger.Debug(ctx, "Source changed", "path", e.Path, "type", e.Type.String())
		}
		rebuild(ctx)
		return nil
	})
	if err := fw.AddRecursive(cfg.Root); err != nil {
		return err
	}

	fw.Start(ctx)
	logger.Info(ctx, "Watching for changes", "root", cfg.Root)

	<-ctx.Done()
	return nil
}

// normalizeExts accepts "ts" and ".ts" alike.
func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
