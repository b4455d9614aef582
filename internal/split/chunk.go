package split

import (
	"sort"

	"github.com/conneroisu/splitpack/internal/module"
)

// ChunkKind tags why a chunk exists.
type ChunkKind uint8

const (
	ChunkEntry ChunkKind = iota
	ChunkAsync
	ChunkShared
)

// String returns the kind name used in manifests.
func (k ChunkKind) String() string {
	switch k {
	case ChunkEntry:
		return "entry"
	case ChunkAsync:
		return "async"
	default:
		return "shared"
	}
}

// Chunk is one output unit.
type Chunk struct {
	// ID is the position in ChunkGraph.Chunks.
	ID   uint32
	Name string
	Kind ChunkKind
	// Root is the entry or dynamic import target the chunk was seeded
	// from. Shared chunks have no root.
	Root    module.ID
	HasRoot bool
	// Modules are sorted by canonical order.
	Modules []module.ID
	// Deps name chunks that must load before this one, in load order.
	Deps []string
	// Parents name the chunks this one was split from (shared) or whose
	// code dynamically imports its root (async).
	Parents []string
	Size    int64
}

// ChunkGraph is the final partition. Chunks are in a load order that
// respects every dependency.
type ChunkGraph struct {
	Chunks []*Chunk

	byName map[string]*Chunk
	// async maps a dynamic import target to its chunk name. A target whose
	// modules are all available in every importer maps to "".
	async map[module.ID]string
}

// Chunk returns the chunk called name.
func (cg *ChunkGraph) Chunk(name string) (*Chunk, bool) {
	c, ok := cg.byName[name]
	return c, ok
}

// Entries returns the entry chunks sorted by name.
func (cg *ChunkGraph) Entries() []*Chunk {
	var out []*Chunk
	for _, c := range cg.Chunks {
		if c.Kind == ChunkEntry {
			out = append(out, c)
		}
	}
	sortChunksByName(out)
	return out
}

// AsyncChunk returns the chunk loaded for a dynamic import of target. ok
// is false when target is not a dynamic import target. An empty name means
// nothing needs loading.
func (cg *ChunkGraph) AsyncChunk(target module.ID) (name string, ok bool) {
	name, ok = cg.async[target]
	return name, ok
}

// LoadOrder lists the chunks fetched to run the named chunk: its
// dependencies in load order followed by the chunk itself.
func (cg *ChunkGraph) LoadOrder(name string) []string {
	c, ok := cg.byName[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.Deps)+1)
	out = append(out, c.Deps...)
	return append(out, c.Name)
}

// ChunksOf returns the sorted names of the chunks holding id.
func (cg *ChunkGraph) ChunksOf(id module.ID) []string {
	var out []string
	for _, c := range cg.Chunks {
		for _, m := range c.Modules {
			if m == id {
				out = append(out, c.Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
