// Package resolve maps import specifiers to canonical module identities.
//
// Resolution order is externals, then alias prefixes (longest alias wins),
// then relative or absolute paths against the importing directory, then the
// ordered module roots. A candidate path is tried as a file, then with each
// configured extension, then as a directory through package.json "main" and
// index files.
package resolve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
)

// DefaultExtensions replace the "..." placeholder in an extension list.
var DefaultExtensions = []string{".js", ".mjs", ".json"}

// ExternalPrefix marks identities of modules provided by the page.
const ExternalPrefix = "external:"

// Alias substitutes a specifier prefix with a directory.
type Alias struct {
	Name string
	Path string
}

// Options configures a Resolver. Paths must be absolute.
type Options struct {
	Modules    []string
	Extensions []string
	Alias      []Alias
	// Externals maps exact specifiers to global variable names.
	Externals map[string]string
}

// Result is a resolved module identity.
type Result struct {
	Identity string
	Path     string
	Query    string
	External string
}

// Resolver resolves specifiers. It holds no mutable state and is safe for
// concurrent use.
type Resolver struct {
	modules    []string
	extensions []string
	aliases    []Alias
	externals  map[string]string
}

// New creates a resolver, expanding "..." in the extension list and ordering
// aliases so the longest name is tried first.
func New(opts Options) *Resolver {
	aliases := append([]Alias(nil), opts.Alias...)
	sort.SliceStable(aliases, func(i, j int) bool {
		return len(aliases[i].Name) > len(aliases[j].Name)
	})

	return &Resolver{
		modules:    opts.Modules,
		extensions: ExpandExtensions(opts.Extensions),
		aliases:    aliases,
		externals:  opts.Externals,
	}
}

// ExpandExtensions replaces "..." with DefaultExtensions and drops
// duplicates while keeping first occurrence order.
func ExpandExtensions(exts []string) []string {
	if len(exts) == 0 {
		exts = []string{"..."}
	}
	seen := make(map[string]bool)
	var out []string
	add := func(e string) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, e := range exts {
		if e == "..." {
			for _, d := range DefaultExtensions {
				add(d)
			}
			continue
		}
		add(e)
	}

	return out
}

// Resolve maps specifier, imported from a file in originDir, to an identity.
// Failure is always a *errors.ResolutionError listing every path tried.
func (r *Resolver) Resolve(specifier, originDir string) (Result, error) {
	spec, query := module.SplitQuery(specifier)

	if global, ok := r.externals[spec]; ok {
		return Result{Identity: ExternalPrefix + spec, External: global}, nil
	}

	var searched []string
	var bases []string

	switch {
	case r.aliased(spec) != "":
		bases = []string{r.aliased(spec)}
	case isRelative(spec):
		bases = []string{filepath.Join(originDir, filepath.FromSlash(spec))}
	case filepath.IsAbs(spec):
		bases = []string{filepath.Clean(spec)}
	default:
		for _, root := range r.modules {
			bases = append(bases, filepath.Join(root, filepath.FromSlash(spec)))
		}
	}

	for _, base := range bases {
		if p, ok := r.tryPath(base, &searched); ok {
			return Result{Identity: p + query, Path: p, Query: query}, nil
		}
	}

	return Result{}, errors.NewResolutionError(specifier, originDir, searched)
}

func (r *Resolver) aliased(spec string) string {
	for _, a := range r.aliases {
		if spec == a.Name {
			return a.Path
		}
		if strings.HasPrefix(spec, a.Name+"/") {
			return filepath.Join(a.Path, filepath.FromSlash(spec[len(a.Name)+1:]))
		}
	}

	return ""
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// tryPath tries p as a file, with each extension, then as a directory.
func (r *Resolver) tryPath(p string, searched *[]string) (string, bool) {
	if f, ok := r.tryFile(p, searched); ok {
		return f, true
	}

	return r.tryDir(p, searched)
}

func (r *Resolver) tryFile(p string, searched *[]string) (string, bool) {
	if isFile(p, searched) {
		return p, true
	}
	for _, ext := range r.extensions {
		if isFile(p+ext, searched) {
			return p + ext, true
		}
	}

	return "", false
}

func (r *Resolver) tryDir(dir string, searched *[]string) (string, bool) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}

	if main := packageMain(filepath.Join(dir, "package.json")); main != "" {
		target := filepath.Join(dir, filepath.FromSlash(main))
		if f, ok := r.tryFile(target, searched); ok {
			return f, true
		}
		if f, ok := r.tryIndex(target, searched); ok {
			return f, true
		}
	}

	return r.tryIndex(dir, searched)
}

func (r *Resolver) tryIndex(dir string, searched *[]string) (string, bool) {
	for _, ext := range r.extensions {
		p := filepath.Join(dir, "index"+ext)
		if isFile(p, searched) {
			return p, true
		}
	}

	return "", false
}

func isFile(p string, searched *[]string) bool {
	*searched = append(*searched, p)
	info, err := os.Stat(p)

	return err == nil && info.Mode().IsRegular()
}

func packageMain(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}

	return pkg.Main
}
