package graph

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/cache"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/transform"
)

// Processed describes how a module's code was produced.
type Processed struct {
	CacheKey string
	Tier     cache.Tier
	Leaf     bool
	Bypassed bool
	Duration time.Duration
}

// process runs on a worker goroutine. It must not touch the graph.
func (b *Builder) process(ctx context.Context, j job) result {
	start := time.Now()
	r := result{id: j.id}

	if j.external != "" {
		r.code = externalStub(j.external)
		r.processed = Processed{Tier: cache.TierMiss, Leaf: true, Duration: time.Since(start)}
		return r
	}

	source, err := os.ReadFile(j.path)
	if err != nil {
		r.err = errors.NewIOError(errors.ErrCodeFileNotFound, "reading module", err).
			WithContext("file", j.path)
		return r
	}
	r.source = source

	if j.kind == module.KindAsset {
		name, query := module.SplitQuery(j.name)
		d := b.opts.Classifier.Classify(asset.Input{Path: name, Query: query, Content: source})
		r.asset = &d
		r.code = assetStub(d.URL(b.opts.PublicPath))
		r.processed = Processed{Tier: cache.TierMiss, Leaf: true, Duration: time.Since(start)}
		return r
	}

	out, err := b.opts.Pipeline.Run(ctx, transform.Request{Path: j.path, Kind: j.kind, Source: source})
	if err != nil {
		r.err = err
		return r
	}
	r.code = out.Code
	r.sourceMap = out.Map
	r.processed = Processed{
		CacheKey: out.CacheKey,
		Tier:     out.Tier,
		Leaf:     out.Leaf,
		Bypassed: out.Bypassed,
	}

	if !out.Leaf {
		r.refs, r.err = b.resolveRefs(j, out.Code)
	}
	r.processed.Duration = time.Since(start)

	return r
}

// resolveRefs scans transformed code and resolves every specifier found,
// in source order.
func (b *Builder) resolveRefs(j job, code []byte) ([]ref, error) {
	dir := filepath.Dir(j.path)
	var refs []ref

	if j.kind == module.KindStylesheet {
		for _, sr := range transform.ScanStylesheet(code) {
			res, err := b.opts.Resolver.Resolve(stylesheetSpecifier(sr.Specifier), dir)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref{
				specifier:   sr.Specifier,
				resolved:    res,
				styleImport: sr.Import,
				condition:   sr.Condition,
			})
		}
		return refs, nil
	}

	for _, imp := range transform.ScanScript(code) {
		res, err := b.opts.Resolver.Resolve(imp.Specifier, dir)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref{specifier: imp.Specifier, resolved: res, dynamic: imp.Dynamic})
	}

	return refs, nil
}

// stylesheetSpecifier treats a bare url() or @import target as relative to
// the sheet, the way browsers do. "~pkg/x" opts into module resolution;
// "~/x" and "@/x" are left for the alias table.
func stylesheetSpecifier(spec string) string {
	switch {
	case strings.HasPrefix(spec, "~/"), strings.HasPrefix(spec, "@"):
		return spec
	case len(spec) > 1 && spec[0] == '~':
		return spec[1:]
	case spec[0] == '.' || spec[0] == '/':
		return spec
	default:
		return "./" + spec
	}
}

func assetStub(url string) []byte {
	return []byte("module.exports = " + strconv.Quote(url) + ";\n")
}

func externalStub(global string) []byte {
	return []byte("module.exports = window[" + strconv.Quote(global) + "];\n")
}
