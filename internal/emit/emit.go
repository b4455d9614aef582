// Package emit renders chunks into hashed artifacts and writes them, with a
// manifest, into the output directory in one atomic step.
package emit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/css"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/logging"
	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/split"
)

// Options configures emission.
type Options struct {
	// OutDir is the absolute output directory. It is replaced as a whole.
	OutDir      string
	PublicPath  string
	JSFilename  string
	CSSFilename string
	HashLength  int
	Minify      bool
	// Manifest is the manifest filename inside OutDir.
	Manifest string
	// Stats also writes stats.json.
	Stats  bool
	Logger logging.Logger
}

// Input is everything a build pass hands to the emitter.
type Input struct {
	Graph  *module.Graph
	Chunks *split.ChunkGraph
	// Styles holds the stylesheet bundle of each chunk that has one.
	Styles  map[string]*css.Bundle
	Options Options
}

const statsFilename = "stats.json"

type emitter struct {
	in     Input
	opts   Options
	logger logging.Logger

	files    map[string][]byte
	manifest *Manifest
	refs     map[string]fileRef
	stats    Stats
}

// Emit renders every chunk, hashes the final bytes into filenames and
// replaces OutDir with the result. Nothing is written to OutDir unless
// every artifact rendered.
func Emit(ctx context.Context, in Input) (*Manifest, error) {
	opts := in.Options
	if opts.JSFilename == "" {
		opts.JSFilename = "[name].[hash].js"
	}
	if opts.CSSFilename == "" {
		opts.CSSFilename = "[name].[hash].css"
	}
	if opts.HashLength <= 0 {
		opts.HashLength = 8
	}
	if opts.Manifest == "" {
		opts.Manifest = "manifest.json"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	e := &emitter{
		in:     in,
		opts:   opts,
		logger: opts.Logger.WithComponent("emit"),
		files:  make(map[string][]byte),
		manifest: &Manifest{
			PublicPath: opts.PublicPath,
			Entries:    make(map[string]EntryFiles),
			Chunks:     make(map[string]ChunkFile),
			Assets:     make(map[string]string),
		},
		refs: make(map[string]fileRef),
	}
	perf := logging.StartOperation(e.logger, "emit")

	if err := e.render(ctx); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	if err := e.write(ctx); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	perf.End(ctx, "files", len(e.files), "bytes", e.manifest.TotalBytes())

	return e.manifest, nil
}

func (e *emitter) render(ctx context.Context) error {
	e.emitAssets()

	// Stylesheets and non-entry chunks first: entry chunks embed their
	// filenames.
	for _, c := range e.in.Chunks.Chunks {
		if err := e.emitStyles(c); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, c := range e.in.Chunks.Chunks {
		if c.Kind == split.ChunkEntry || len(c.Modules) == 0 {
			continue
		}
		if err := e.emitScript(c, renderChunk(e.in.Graph, e.in.Chunks, c)); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, c := range e.in.Chunks.Entries() {
		code := renderEntry(e.in.Graph, e.in.Chunks, c, e.refs, e.opts.PublicPath)
		if err := e.emitScript(c, code); err != nil {
			return err
		}
	}

	for _, c := range e.in.Chunks.Chunks {
		e.describe(c)
	}
	for _, c := range e.in.Chunks.Entries() {
		var files EntryFiles
		files.JS, files.CSS = []string{}, []string{}
		for _, name := range e.in.Chunks.LoadOrder(c.Name) {
			f := e.manifest.Chunks[name]
			if f.JS != "" {
				files.JS = append(files.JS, f.JS)
			}
			if f.CSS != "" {
				files.CSS = append(files.CSS, f.CSS)
			}
		}
		e.manifest.Entries[c.Name] = files
	}
	e.stats.Assets = len(e.manifest.Assets)
	e.stats.Modules = len(e.in.Graph.Ordered())

	return nil
}

func (e *emitter) emitAssets() {
	for _, m := range e.in.Graph.Ordered() {
		if m.Asset == nil || m.Asset.Inline {
			continue
		}
		e.files[m.Asset.Filename] = m.Source
		e.manifest.Assets[m.Name] = m.Asset.Filename
	}
}

func (e *emitter) emitStyles(c *split.Chunk) error {
	b, ok := e.in.Styles[c.Name]
	if !ok || len(b.CSS) == 0 {
		return nil
	}

	code := b.CSS
	if e.opts.Minify {
		out, err := minify(code, api.LoaderCSS, c.Name+".css")
		if err != nil {
			return errors.NewTransformError(c.Name+".css", "minify", err)
		}
		code = out
	}

	name, digest := e.filename(e.opts.CSSFilename, c.Name, ".css", code)
	e.files[name] = code

	ref := e.refs[c.Name]
	ref.CSS = name
	e.refs[c.Name] = ref

	f := e.manifest.Chunks[c.Name]
	f.CSS, f.CSSHash, f.CSSSize = name, digest, len(code)
	e.manifest.Chunks[c.Name] = f

	return nil
}

func (e *emitter) emitScript(c *split.Chunk, code []byte) error {
	if e.opts.Minify {
		out, err := minify(code, api.LoaderJS, c.Name+".js")
		if err != nil {
			return errors.NewTransformError(c.Name+".js", "minify", err)
		}
		code = out
	}

	name, digest := e.filename(e.opts.JSFilename, c.Name, ".js", code)
	e.files[name] = code

	if c.Kind != split.ChunkEntry {
		ref := e.refs[c.Name]
		ref.JS = name
		e.refs[c.Name] = ref
	}

	f := e.manifest.Chunks[c.Name]
	f.JS, f.Hash, f.Size = name, digest, len(code)
	e.manifest.Chunks[c.Name] = f

	return nil
}

// filename hashes the final bytes and expands the template.
func (e *emitter) filename(template, name, ext string, code []byte) (string, string) {
	sum := sha256.Sum256(code)
	digest := hex.EncodeToString(sum[:])

	return asset.RenderFilename(template, name, ext, digest, e.opts.HashLength), digest
}

func (e *emitter) describe(c *split.Chunk) {
	f := e.manifest.Chunks[c.Name]
	f.Kind = c.Kind.String()
	f.Load = e.in.Chunks.LoadOrder(c.Name)
	f.Modules = make([]string, 0, len(c.Modules))
	for _, id := range c.Modules {
		f.Modules = append(f.Modules, e.in.Graph.Get(id).Name)
	}
	e.manifest.Chunks[c.Name] = f

	e.stats.Chunks = append(e.stats.Chunks, ChunkStats{
		Name:       c.Name,
		Kind:       f.Kind,
		Modules:    len(c.Modules),
		Size:       f.Size,
		CSSSize:    f.CSSSize,
		SourceSize: c.Size,
	})
}

// write stages every file in a sibling temporary directory and swaps it
// into place.
func (e *emitter) write(ctx context.Context) error {
	manifest, err := json.MarshalIndent(e.manifest, "", "  ")
	if err != nil {
		return errors.NewInternalError("encoding manifest", err)
	}
	e.files[e.opts.Manifest] = append(manifest, '\n')

	if e.opts.Stats {
		stats, err := json.MarshalIndent(e.stats, "", "  ")
		if err != nil {
			return errors.NewInternalError("encoding stats", err)
		}
		e.files[statsFilename] = append(stats, '\n')
	}

	return writeAtomic(ctx, e.opts.OutDir, e.files)
}

func writeAtomic(ctx context.Context, outDir string, files map[string][]byte) error {
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "creating output parent", err).
			WithContext("dir", parent)
	}

	stage, err := os.MkdirTemp(parent, "."+filepath.Base(outDir)+"-stage-")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "creating staging directory", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(stage)
		}
	}()
	if err := os.Chmod(stage, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "preparing staging directory", err)
	}

	for _, name := range sortedKeys(files) {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(stage, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "creating directory", err).
				WithContext("file", name)
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "writing artifact", err).
				WithContext("file", name)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	old := ""
	if _, err := os.Stat(outDir); err == nil {
		old = stage + "-old"
		if err := os.Rename(outDir, old); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "moving previous output aside", err).
				WithContext("dir", outDir)
		}
	}
	if err := os.Rename(stage, outDir); err != nil {
		if old != "" {
			_ = os.Rename(old, outDir)
		}
		return errors.NewIOError(errors.ErrCodeWriteFailed, fmt.Sprintf("replacing %s", outDir), err)
	}
	committed = true

	if old != "" {
		_ = os.RemoveAll(old)
	}

	return nil
}
