// Package graph builds the module graph for a build pass.
//
// A single coordinator goroutine owns the module.Graph. It hands jobs to a
// pool of workers, each of which reads, transforms, scans and resolves one
// module and returns the result. Only the coordinator creates modules or
// adds edges, so identity uniqueness holds without locks; the final Order
// comes from Graph.Canonicalize and not from the order results arrive in.
package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/logging"
	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/resolve"
	"github.com/conneroisu/splitpack/internal/transform"
)

// Entry is a named root specifier, resolved against the project root.
type Entry struct {
	Name   string
	Import string
}

// Options configures a Builder.
type Options struct {
	// Root is the absolute project root. Module names are relative to it.
	Root       string
	Resolver   *resolve.Resolver
	Pipeline   *transform.Pipeline
	Classifier *asset.Classifier
	// PublicPath prefixes emitted asset URLs in asset stubs.
	PublicPath string
	Workers    int
	Logger     logging.Logger
	Observer   Observer
}

// Observer receives per-module processing events. It is called from the
// coordinator goroutine only.
type Observer interface {
	ModuleProcessed(m *module.Module, res Processed)
}

// Builder builds module graphs. A Builder may run several builds in
// sequence; each Build call owns its own graph.
type Builder struct {
	opts   Options
	logger logging.Logger
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Builder{opts: opts, logger: logger.WithComponent("graph")}
}

// job is one module handed to a worker.
type job struct {
	id       module.ID
	identity string
	path     string
	name     string
	kind     module.Kind
	external string
}

// ref is a resolved import found by a worker.
type ref struct {
	specifier string
	resolved  resolve.Result
	dynamic   bool
	// styleImport marks @import inside a stylesheet.
	styleImport bool
	condition   string
}

// result is a worker's report for one job.
type result struct {
	id        module.ID
	processed Processed
	source    []byte
	code      []byte
	sourceMap []byte
	asset     *asset.Decision
	refs      []ref
	err       error
}

// Build resolves every entry and walks the graph to a fixed point. Any
// resolution or transform error cancels the pass and is returned with the
// import chain that led to the failing module.
func (b *Builder) Build(ctx context.Context, entries []Entry) (*module.Graph, error) {
	if len(entries) == 0 {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "at least one entry is required")
	}

	perf := logging.StartOperation(b.logger, "graph_build")
	g := module.NewGraph()
	parents := make(map[module.ID]module.ID)
	entryOf := make(map[module.ID]string)

	var queue []job
	for _, e := range entries {
		res, err := b.opts.Resolver.Resolve(e.Import, b.opts.Root)
		if err != nil {
			return nil, withChain(err, []string{"entry:" + e.Name})
		}
		m, created := b.addModule(g, res)
		if created {
			entryOf[m.ID] = e.Name
			queue = append(queue, b.jobFor(m))
		}
		g.AddEntry(e.Name, m.ID)
	}

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(buildCtx)
	jobs := make(chan job)
	results := make(chan result)

	for i := 0; i < b.opts.Workers; i++ {
		eg.Go(func() error {
			for j := range jobs {
				r := b.process(egCtx, j)
				select {
				case results <- r:
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}
			return nil
		})
	}

	buildErr := b.coordinate(buildCtx, g, queue, jobs, results, parents, entryOf)
	close(jobs)
	if buildErr != nil {
		cancel()
	}
	if err := eg.Wait(); err != nil && buildErr == nil && !stderrors.Is(err, context.Canceled) {
		buildErr = err
	}
	if buildErr != nil {
		perf.EndWithError(ctx, buildErr)
		return nil, buildErr
	}

	g.Canonicalize()
	perf.End(ctx, "modules", g.Len(), "entries", len(entries))

	return g, nil
}

// coordinate is the single writer of g. It feeds queued jobs to workers
// and folds their results into the graph until no work is pending.
func (b *Builder) coordinate(
	ctx context.Context,
	g *module.Graph,
	queue []job,
	jobs chan<- job,
	results <-chan result,
	parents map[module.ID]module.ID,
	entryOf map[module.ID]string,
) error {
	pending := len(queue)

	for pending > 0 {
		var send chan<- job
		var next job
		if len(queue) > 0 {
			send = jobs
			next = queue[0]
		}

		select {
		case send <- next:
			queue = queue[1:]

		case r := <-results:
			pending--
			m := g.Get(r.id)
			if r.err != nil {
				return withChain(r.err, chainTo(g, parents, entryOf, m.ID))
			}

			m.Source = r.source
			m.Code = r.code
			m.SourceMap = r.sourceMap
			m.CacheKey = r.processed.CacheKey
			m.Leaf = r.processed.Leaf
			m.Asset = r.asset

			for _, rf := range r.refs {
				target, created := b.addModule(g, rf.resolved)
				if created {
					parents[target.ID] = m.ID
					queue = append(queue, b.jobFor(target))
					pending++
				}
				m.AddEdge(module.Edge{
					Specifier: rf.specifier,
					Target:    target.ID,
					Kind:      edgeKind(m, target, rf),
					Condition: rf.condition,
				})
			}

			if b.opts.Observer != nil {
				b.opts.Observer.ModuleProcessed(m, r.processed)
			}
			b.logger.Debug(ctx, "Module processed",
				"module", m.Name,
				"kind", m.Kind.String(),
				"edges", len(m.Edges),
				"cache", string(r.processed.Tier))

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func edgeKind(from, to *module.Module, rf ref) module.EdgeKind {
	switch {
	case rf.dynamic:
		return module.ImportDynamic
	case from.Kind == module.KindScript && to.Kind == module.KindStylesheet:
		return module.ImportStylesheet
	default:
		return module.ImportStatic
	}
}

func (b *Builder) addModule(g *module.Graph, res resolve.Result) (*module.Module, bool) {
	if res.External != "" {
		m, created := g.Add(res.Identity, "", res.Identity, module.KindScript)
		if created {
			m.External = res.External
		}
		return m, created
	}

	return g.Add(res.Identity, res.Path, b.nameFor(res), module.KindOf(res.Path))
}

// nameFor returns the root-relative, slash-separated identity.
func (b *Builder) nameFor(res resolve.Result) string {
	rel, err := filepath.Rel(b.opts.Root, res.Path)
	if err != nil {
		rel = res.Path
	}

	return filepath.ToSlash(rel) + res.Query
}

func (b *Builder) jobFor(m *module.Module) job {
	return job{
		id:       m.ID,
		identity: m.Identity,
		path:     m.Path,
		name:     m.Name,
		kind:     m.Kind,
		external: m.External,
	}
}

// chainTo walks parent pointers from id back to its entry.
func chainTo(g *module.Graph, parents map[module.ID]module.ID, entryOf map[module.ID]string, id module.ID) []string {
	var chain []string
	seen := make(map[module.ID]bool)
	for {
		if seen[id] {
			break
		}
		seen[id] = true
		chain = append(chain, g.Get(id).Name)
		if name, ok := entryOf[id]; ok {
			chain = append(chain, "entry:"+name)
			break
		}
		parent, ok := parents[id]
		if !ok {
			break
		}
		id = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain
}

// withChain attaches chain to a structured error. Other errors (context
// cancellation) are wrapped with the chain in the message.
func withChain(err error, chain []string) error {
	var be *errors.BuildError
	if stderrors.As(err, &be) {
		be.WithChain(chain)
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w (imported via %s)", err, strings.Join(chain, " -> "))
}
