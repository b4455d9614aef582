// Package bundler wires the resolver, transform pipeline, graph builder,
// splitter, stylesheet extraction and emitter into build passes over one
// project.
package bundler

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/cache"
	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/css"
	"github.com/conneroisu/splitpack/internal/emit"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/graph"
	"github.com/conneroisu/splitpack/internal/logging"
	"github.com/conneroisu/splitpack/internal/metrics"
	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/resolve"
	"github.com/conneroisu/splitpack/internal/split"
	"github.com/conneroisu/splitpack/internal/transform"
	"github.com/conneroisu/splitpack/internal/validation"
)

// Context holds the state that survives between build passes: the
// transform cache, the compiled configuration and the metrics registry.
// Build passes on one Context run one at a time.
type Context struct {
	cfg    *config.Config
	logger logging.Logger

	cache       *cache.Cache
	warnings    *errors.WarningCollector
	builder     *graph.Builder
	constraints split.Constraints
	safelist    []*regexp.Regexp
	metrics     *metrics.Metrics
	publisher   emit.Publisher

	mu     sync.Mutex
	closed bool
}

// Option customises a Context.
type Option func(*Context)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithPublisher uploads every successful build. It overrides the publish
// section of the configuration.
func WithPublisher(p emit.Publisher) Option {
	return func(c *Context) { c.publisher = p }
}

// WithMetrics records into m instead of a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// Result describes one successful build pass.
type Result struct {
	BuildID  string
	Manifest *emit.Manifest
	Graph    *module.Graph
	Chunks   *split.ChunkGraph
	Styles   map[string]*css.Bundle
	Warnings []errors.Warning
	Duration time.Duration
	// Cache counts lookups made by this pass only.
	Cache cache.Stats
}

// New validates cfg and prepares everything a build pass needs. cfg must
// have gone through config.Load or config.Finalize. Invalid split
// constraints are reported here, before any file is read.
func New(cfg *config.Config, opts ...Option) (*Context, error) {
	c := &Context{cfg: cfg, warnings: errors.NewWarningCollector()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	if err := validation.ValidateOutputDir(cfg.Root, cfg.Output.Dir); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}

	constraints, err := split.ConstraintsFromConfig(&cfg.Split, cfg.Entries)
	if err != nil {
		return nil, err
	}
	c.constraints = constraints

	cacheDir := ""
	if cfg.Transform.Cache {
		cacheDir = cfg.Transform.CacheDir
	}
	c.cache, err = cache.New(cacheDir, cfg.Transform.MemoryEntries)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "opening transform cache", err)
	}

	pipeline, err := c.newPipeline()
	if err != nil {
		return nil, err
	}

	c.safelist, err = transform.CompilePatterns(cfg.Purge.Safelist)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "purge.safelist: "+err.Error())
	}

	c.builder = graph.NewBuilder(graph.Options{
		Root:     cfg.Root,
		Resolver: newResolver(cfg),
		Pipeline: pipeline,
		Classifier: asset.NewClassifier(asset.Thresholds{
			Image: cfg.Assets.ImageThreshold,
			Font:  cfg.Assets.FontThreshold,
			Other: cfg.Assets.OtherThreshold,
		}, cfg.Assets.Filename),
		PublicPath: cfg.Output.PublicPath,
		Workers:    cfg.Transform.Workers,
		Logger:     c.logger,
		Observer:   c.metrics,
	})

	if c.publisher == nil && cfg.Publish.Enabled {
		c.publisher, err = emit.NewBucketPublisher(cfg.Publish)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Context) newPipeline() (*transform.Pipeline, error) {
	tc := c.cfg.Transform

	script, err := transform.BuildChain(tc.Script)
	if err != nil {
		return nil, fmt.Errorf("transform.script: %w", err)
	}
	jsonChain, err := transform.BuildChain(tc.JSON)
	if err != nil {
		return nil, fmt.Errorf("transform.json: %w", err)
	}
	stylesheet, err := transform.BuildChain(tc.Stylesheet)
	if err != nil {
		return nil, fmt.Errorf("transform.stylesheet: %w", err)
	}
	exclude, err := transform.CompilePatterns(tc.Exclude)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "transform.exclude: "+err.Error())
	}
	noParse, err := transform.CompilePatterns(tc.NoParse)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "transform.no_parse: "+err.Error())
	}

	return transform.NewPipeline(transform.Options{
		Script:     script,
		JSON:       jsonChain,
		Stylesheet: stylesheet,
		Exclude:    exclude,
		NoParse:    noParse,
		Timeout:    tc.Timeout,
		Cache:      c.cache,
		Logger:     c.logger,
		Warnings:   c.warnings,
	}), nil
}

func newResolver(cfg *config.Config) *resolve.Resolver {
	aliases := make([]resolve.Alias, 0, len(cfg.Resolve.Alias))
	for _, a := range cfg.Resolve.Alias {
		aliases = append(aliases, resolve.Alias{Name: a.Name, Path: a.Path})
	}
	externals := make(map[string]string, len(cfg.Externals))
	for _, e := range cfg.Externals {
		externals[e.Name] = e.Global
	}

	return resolve.New(resolve.Options{
		Modules:    cfg.Resolve.Modules,
		Extensions: cfg.Resolve.Extensions,
		Alias:      aliases,
		Externals:  externals,
	})
}

// Config returns the configuration the Context was built from.
func (c *Context) Config() *config.Config {
	return c.cfg
}

// Metrics returns the metrics the Context records into.
func (c *Context) Metrics() *metrics.Metrics {
	return c.metrics
}

// Close drops the in-memory cache tier. The disk tier stays for the next
// process.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.cache.Purge()
		c.closed = true
	}

	return nil
}

// ClearCache drops every cached transform result, in memory and on disk,
// so the next pass transforms every module again.
func (c *Context) ClearCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.cache.Clear(); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "clearing transform cache", err).
			WithContext("dir", c.cfg.Transform.CacheDir)
	}

	return nil
}

// Build runs one complete pass: graph, split, stylesheets, emission and,
// when configured, publication. On error the output directory is left as
// the previous successful pass wrote it.
func (c *Context) Build(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.NewInternalError("build on closed context", nil)
	}

	start := time.Now()
	buildID := uuid.NewString()
	logger := c.logger.With("build_id", buildID)
	op := logging.StartOperation(logger, "build")

	before := c.cache.Stats()
	c.warnings.Clear()

	res, err := c.build(ctx, logger)
	duration := time.Since(start)

	after := c.cache.Stats()
	c.metrics.CacheCorruptions(after.Corruptions - before.Corruptions)
	c.metrics.Warnings(c.warnings.Len())
	c.metrics.BuildFinished(duration, err)

	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	res.BuildID = buildID
	res.Duration = duration
	res.Warnings = c.warnings.Warnings()
	res.Cache = cache.Stats{
		MemoryHits:  after.MemoryHits - before.MemoryHits,
		DiskHits:    after.DiskHits - before.DiskHits,
		Misses:      after.Misses - before.Misses,
		Corruptions: after.Corruptions - before.Corruptions,
		Writes:      after.Writes - before.Writes,
	}
	c.metrics.Emitted(res.Manifest)

	op.End(ctx,
		"modules", res.Graph.Len(),
		"chunks", len(res.Chunks.Chunks),
		"warnings", len(res.Warnings),
	)

	return res, nil
}

func (c *Context) build(ctx context.Context, logger logging.Logger) (*Result, error) {
	entries := make([]graph.Entry, 0, len(c.cfg.Entries))
	for _, e := range c.cfg.Entries {
		entries = append(entries, graph.Entry{Name: e.Name, Import: e.Import})
	}

	g, err := c.builder.Build(ctx, entries)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "Module graph built", "modules", g.Len())

	cg, err := split.Split(g, c.constraints)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "Chunks split", "chunks", len(cg.Chunks))

	var content *css.Tokens
	if c.cfg.Purge.Enabled {
		content = css.NewTokens()
		if err := content.AddContent(c.cfg.Purge.Content); err != nil {
			return nil, err
		}
	}
	styles, warnings, err := css.ExtractAndPurge(g, styleRoots(cg), css.Options{
		PublicPath: c.cfg.Output.PublicPath,
		Purge:      c.cfg.Purge.Enabled,
		Safelist:   c.safelist,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		c.warnings.Add(w)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := c.cfg.Output
	manifest, err := emit.Emit(ctx, emit.Input{
		Graph:  g,
		Chunks: cg,
		Styles: styles,
		Options: emit.Options{
			OutDir:      out.Dir,
			PublicPath:  out.PublicPath,
			JSFilename:  out.JSFilename,
			CSSFilename: out.CSSFilename,
			HashLength:  out.HashLength,
			Minify:      out.Minify,
			Manifest:    out.Manifest,
			Stats:       out.Stats,
			Logger:      logger,
		},
	})
	if err != nil {
		return nil, err
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, out.Dir, manifest, out.Manifest); err != nil {
			return nil, err
		}
		logger.Info(ctx, "Build published", "files", len(manifest.Files()))
	}

	return &Result{Manifest: manifest, Graph: g, Chunks: cg, Styles: styles}, nil
}

// styleRoots lists one stylesheet root per entry and async chunk, ordered
// so every chunk follows the chunks that load it. Async chunks that import
// each other in a cycle keep chunk order.
func styleRoots(cg *split.ChunkGraph) []css.Root {
	var pending []*split.Chunk
	for _, ch := range cg.Chunks {
		if ch.HasRoot {
			pending = append(pending, ch)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Kind == split.ChunkEntry && pending[j].Kind != split.ChunkEntry
	})

	placed := make(map[string]bool, len(pending))
	roots := make([]css.Root, 0, len(pending))
	place := func(ch *split.Chunk) {
		placed[ch.Name] = true
		root := css.Root{Name: ch.Name, Module: ch.Root}
		if ch.Kind != split.ChunkEntry {
			root.Parents = ch.Parents
		}
		roots = append(roots, root)
	}

	for len(pending) > 0 {
		var rest []*split.Chunk
		for _, ch := range pending {
			ready := ch.Kind == split.ChunkEntry
			if !ready {
				ready = true
				for _, p := range ch.Parents {
					if !placed[p] {
						ready = false
						break
					}
				}
			}
			if ready {
				place(ch)
			} else {
				rest = append(rest, ch)
			}
		}
		if len(rest) == len(pending) {
			place(rest[0])
			rest = rest[1:]
		}
		pending = rest
	}

	return roots
}
