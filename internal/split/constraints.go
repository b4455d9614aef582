package split

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
)

// Selection of chunks a cache group may take modules from.
const (
	ChunksAll     = "all"
	ChunksAsync   = "async"
	ChunksInitial = "initial"
)

// CacheGroup routes matching modules into shared chunks.
type CacheGroup struct {
	Key string
	// Test matches the slash-separated module identity. Nil matches all.
	Test     *regexp.Regexp
	Priority int
	// MinChunks and MinSize override the top-level values when set.
	MinChunks          int
	MinSize            *int64
	Chunks             string
	Name               string
	ReuseExistingChunk bool
	// Enforce ignores size, sharing and request limits.
	Enforce bool
}

// Constraints bound the partition.
type Constraints struct {
	Chunks               string
	MinSize              int64
	MinRemainingSize     int64
	MinChunks            int
	MaxAsyncRequests     int
	MaxInitialRequests   int
	EnforceSizeThreshold int64
	CacheGroups          []CacheGroup
}

// ConstraintsFromConfig validates and compiles split configuration.
func ConstraintsFromConfig(cfg *config.SplitConfig, entries []config.EntryConfig) (Constraints, error) {
	if err := config.ValidateSplit(cfg, entries); err != nil {
		return Constraints{}, err
	}

	c := Constraints{
		Chunks:               cfg.Chunks,
		MinSize:              cfg.MinSize,
		MinRemainingSize:     cfg.MinRemainingSize,
		MinChunks:            cfg.MinChunks,
		MaxAsyncRequests:     cfg.MaxAsyncRequests,
		MaxInitialRequests:   cfg.MaxInitialRequests,
		EnforceSizeThreshold: cfg.EnforceSizeThreshold,
	}

	for i, gc := range cfg.CacheGroups {
		g := CacheGroup{
			Key:                gc.Key,
			Priority:           gc.Priority,
			MinChunks:          gc.MinChunks,
			MinSize:            gc.MinSize,
			Chunks:             gc.Chunks,
			Name:               gc.Name,
			ReuseExistingChunk: gc.ReuseExistingChunk,
			Enforce:            gc.Enforce,
		}
		if gc.Test != "" {
			re, err := regexp.Compile(gc.Test)
			if err != nil {
				return Constraints{}, errors.NewConstraintViolation(
					fmt.Sprintf("split.cache_groups[%d].test", i), err.Error())
			}
			g.Test = re
		}
		c.CacheGroups = append(c.CacheGroups, g)
	}

	return c, nil
}

func (c *Constraints) chunksFor(g *CacheGroup) string {
	if g.Chunks != "" {
		return g.Chunks
	}
	if c.Chunks != "" {
		return c.Chunks
	}
	return ChunksAll
}

func (c *Constraints) minChunksFor(g *CacheGroup) int {
	switch {
	case g.Enforce:
		return 1
	case g.MinChunks > 0:
		return g.MinChunks
	case c.MinChunks > 0:
		return c.MinChunks
	default:
		return 1
	}
}

func (c *Constraints) minSizeFor(g *CacheGroup) int64 {
	switch {
	case g.Enforce:
		return 0
	case g.MinSize != nil:
		return *g.MinSize
	default:
		return c.MinSize
	}
}

func (g *CacheGroup) matches(m *module.Module) bool {
	if g.Test == nil {
		return true
	}
	return g.Test.MatchString(filepath.ToSlash(m.Identity))
}
