package emit

import (
	"sort"
)

// Manifest maps entries and chunks to emitted files. It is written next to
// the artifacts and read by whatever injects tags into HTML.
type Manifest struct {
	PublicPath string                `json:"public_path"`
	Entries    map[string]EntryFiles `json:"entries"`
	Chunks     map[string]ChunkFile  `json:"chunks"`
	// Assets maps a module name to its emitted file.
	Assets map[string]string `json:"assets"`
}

// EntryFiles lists what a page must load for one entry, in order.
type EntryFiles struct {
	JS  []string `json:"js"`
	CSS []string `json:"css"`
}

// ChunkFile describes one chunk's artifacts.
type ChunkFile struct {
	Kind    string `json:"kind"`
	JS      string `json:"js,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Size    int    `json:"size,omitempty"`
	CSS     string `json:"css,omitempty"`
	CSSHash string `json:"css_hash,omitempty"`
	CSSSize int    `json:"css_size,omitempty"`
	// Load names the chunks fetched to run this one, itself last.
	Load    []string `json:"load"`
	Modules []string `json:"modules"`
}

// Files returns every artifact path in the manifest, sorted.
func (m *Manifest) Files() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, c := range m.Chunks {
		add(c.JS)
		add(c.CSS)
	}
	for _, f := range m.Assets {
		add(f)
	}
	sort.Strings(out)

	return out
}

// TotalBytes sums the emitted chunk sizes.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, c := range m.Chunks {
		n += int64(c.Size) + int64(c.CSSSize)
	}
	return n
}

// Stats summarises a build for stats.json.
type Stats struct {
	Modules int          `json:"modules"`
	Chunks  []ChunkStats `json:"chunks"`
	Assets  int          `json:"assets"`
}

type ChunkStats struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Modules int    `json:"modules"`
	Size    int    `json:"size"`
	CSSSize int    `json:"css_size"`
	// SourceSize is the sum of module sizes before wrapping and minifying.
	SourceSize int64 `json:"source_size"`
}
