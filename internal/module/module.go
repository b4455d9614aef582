// Package module defines the module graph shared by every build stage.
//
// Modules live in an arena indexed by ID. An ID is stable for the lifetime
// of a Graph, so edges, chunks and manifests refer to modules by ID rather
// than by pointer and cyclic imports need no special handling.
package module

import (
	"path/filepath"
	"strings"

	"github.com/conneroisu/splitpack/internal/asset"
)

// ID indexes a module in its Graph.
type ID uint32

// Kind is the coarse module type that selects a transform chain.
type Kind uint8

const (
	KindScript Kind = iota
	KindStylesheet
	KindAsset
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindStylesheet:
		return "stylesheet"
	default:
		return "asset"
	}
}

var scriptExts = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true, ".jsx": true,
	".ts": true, ".mts": true, ".cts": true, ".tsx": true,
	".json": true,
}

var stylesheetExts = map[string]bool{
	".css": true, ".scss": true, ".sass": true, ".less": true,
}

// KindOf classifies a path by extension. Anything that is neither script
// nor stylesheet is a binary asset.
func KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case scriptExts[ext]:
		return KindScript
	case stylesheetExts[ext]:
		return KindStylesheet
	default:
		return KindAsset
	}
}

// EdgeKind tags how an import is loaded.
type EdgeKind uint8

const (
	// ImportStatic is loaded together with the importing chunk.
	ImportStatic EdgeKind = iota
	// ImportDynamic is deferred to runtime and starts a new chunk.
	ImportDynamic
	// ImportStylesheet is a script importing a stylesheet; the sheet is
	// extracted and the edge contributes no code.
	ImportStylesheet
)

// String returns the edge kind name.
func (k EdgeKind) String() string {
	switch k {
	case ImportDynamic:
		return "dynamic"
	case ImportStylesheet:
		return "stylesheet"
	default:
		return "static"
	}
}

// Edge is one import from a module.
type Edge struct {
	Specifier string
	Target    ID
	Kind      EdgeKind
	// Condition is the media, supports() or layer() condition of a
	// stylesheet @import. Empty means unconditional.
	Condition string
}

// Module is a single resolved file.
type Module struct {
	ID ID
	// Identity is the absolute resolved path plus any ?query suffix.
	Identity string
	// Path is the absolute file path without the query.
	Path string
	// Name is Identity relative to the project root with forward slashes.
	// It is the key used in emitted code and manifests.
	Name string
	Kind Kind

	Source    []byte
	Code      []byte
	SourceMap []byte
	Edges     []Edge
	CacheKey  string

	// Order is the canonical position assigned by Graph.Canonicalize.
	Order int

	Asset    *asset.Decision
	External string
	Leaf     bool
}

// Size is the transformed byte size used by chunk constraints.
func (m *Module) Size() int64 {
	return int64(len(m.Code))
}

// AddEdge appends an edge, collapsing repeats of the same specifier and
// kind. Two spellings of one target keep separate edges, since emitted
// require tables and url() rewrites look imports up by specifier. Source
// order of first occurrence is kept.
func (m *Module) AddEdge(e Edge) bool {
	for _, existing := range m.Edges {
		if existing.Specifier == e.Specifier && existing.Kind == e.Kind {
			return false
		}
	}
	m.Edges = append(m.Edges, e)

	return true
}

// SplitQuery separates a "?query" suffix from a specifier or identity.
func SplitQuery(s string) (string, string) {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i], s[i:]
	}

	return s, ""
}
