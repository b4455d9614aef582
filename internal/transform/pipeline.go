package transform

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/splitpack/internal/cache"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/logging"
	"github.com/conneroisu/splitpack/internal/module"
)

// Options configures a Pipeline.
type Options struct {
	Script     *Chain
	JSON       *Chain
	Stylesheet *Chain

	// Excluded runs instead of Script for paths matching Exclude. It
	// defaults to a FormatTransform, so excluded ESM still links.
	Excluded *Chain

	// Exclude bypasses the script chain for matching paths. The module is
	// still converted to CommonJS and scanned for imports.
	Exclude []*regexp.Regexp
	// NoParse bypasses every chain and marks the module a leaf with no
	// edges. Matching files must already be plain scripts or UMD bundles.
	NoParse []*regexp.Regexp

	Timeout  time.Duration
	Cache    *cache.Cache
	Logger   logging.Logger
	Warnings *errors.WarningCollector
}

// Request is one module to transform.
type Request struct {
	Path   string
	Kind   module.Kind
	Source []byte
}

// Result is the transformed module.
type Result struct {
	Code     []byte
	Map      []byte
	CacheKey string
	Leaf     bool
	Bypassed bool
	Tier     cache.Tier
	Duration time.Duration
}

// Pipeline selects a chain per module and runs it through the cache.
type Pipeline struct {
	opts   Options
	logger logging.Logger
}

// NewPipeline creates a pipeline. Missing chains default to passthrough.
func NewPipeline(opts Options) *Pipeline {
	if opts.Script == nil {
		opts.Script = NewChain(Passthrough{})
	}
	if opts.JSON == nil {
		opts.JSON = NewChain(JSONTransform{})
	}
	if opts.Stylesheet == nil {
		opts.Stylesheet = NewChain(Passthrough{})
	}
	if opts.Excluded == nil {
		opts.Excluded = NewChain(FormatTransform{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Pipeline{opts: opts, logger: logger.WithComponent("transform")}
}

// CompilePatterns compiles path patterns; configuration validation has
// already rejected invalid ones.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}

	return out, nil
}

func matchAny(patterns []*regexp.Regexp, path string) bool {
	slashed := filepath.ToSlash(path)
	for _, re := range patterns {
		if re.MatchString(slashed) {
			return true
		}
	}

	return false
}

func (p *Pipeline) chainFor(req Request) *Chain {
	if req.Kind == module.KindStylesheet {
		return p.opts.Stylesheet
	}
	if strings.EqualFold(filepath.Ext(req.Path), ".json") {
		return p.opts.JSON
	}

	return p.opts.Script
}

// Run transforms one module. Cache corruption is logged and recorded as a
// warning, then the module is recomputed.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	isJSON := strings.EqualFold(filepath.Ext(req.Path), ".json")
	chain := p.chainFor(req)
	bypassed := false

	if req.Kind == module.KindScript && !isJSON {
		if matchAny(p.opts.NoParse, req.Path) {
			return Result{Code: req.Source, Leaf: true, Bypassed: true, Tier: cache.TierMiss, Duration: time.Since(start)}, nil
		}
		if matchAny(p.opts.Exclude, req.Path) {
			chain = p.opts.Excluded
			bypassed = true
		}
	}

	source := cache.Sum(req.Source)
	key := cache.KeyFor(req.Path, source, chain.Identity())

	if p.opts.Cache != nil {
		entry, tier, err := p.opts.Cache.Get(key, source)
		if errors.IsFatal(err) {
			return Result{}, err
		}
		if err != nil {
			p.logger.Warn(ctx, err, "Discarding corrupt cache entry", "file", req.Path)
			if p.opts.Warnings != nil {
				p.opts.Warnings.Add(errors.Warning{
					Code:      errors.ErrCodeCacheCorruption,
					Component: "cache",
					File:      req.Path,
					Message:   err.Error(),
				})
			}
		}
		if entry != nil {
			return Result{
				Code:     entry.Code,
				Map:      entry.Map,
				CacheKey: key.String(),
				Bypassed: bypassed,
				Tier:     tier,
				Duration: time.Since(start),
			}, nil
		}
	}

	out, err := chain.Run(ctx, Input{Path: req.Path, Source: req.Source}, p.opts.Timeout)
	if err != nil {
		return Result{}, err
	}

	if p.opts.Cache != nil {
		if _, err := p.opts.Cache.Put(key, req.Path, source, out.Code, out.Map); err != nil {
			p.logger.Warn(ctx, err, "Failed to persist cache entry", "file", req.Path)
			if p.opts.Warnings != nil {
				p.opts.Warnings.Addf(errors.ErrCodeWriteFailed, "cache", "%s: result not cached: %v", req.Path, err)
			}
		}
	}

	return Result{
		Code:     out.Code,
		Map:      out.Map,
		CacheKey: key.String(),
		Bypassed: bypassed,
		Tier:     cache.TierMiss,
		Duration: time.Since(start),
	}, nil
}
