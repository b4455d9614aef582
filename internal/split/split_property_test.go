//go:build property
// +build property

package split

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/splitpack/internal/module"
)

// randomFixture derives a graph from seeds. Edges only point from lower to
// higher module numbers so the shape stays small, but dynamic edges still
// create async chunks that share modules with their parents.
func randomFixture(n int, seeds []int, reverse bool) *fixture {
	f := newFixture()
	name := func(i int) string { return fmt.Sprintf("m%02d.js", i) }

	order := make([]int, n)
	for i := range order {
		order[i] = i
		if reverse {
			order[i] = n - 1 - i
		}
	}
	for _, i := range order {
		f.add(name(i), 1000+seeds[i%len(seeds)]%40000)
	}
	for _, s := range seeds {
		from, to := s%n, (s/7)%n
		if from >= to {
			continue
		}
		if s%5 == 0 {
			f.dynamic(name(from), name(to))
		} else {
			f.static(name(from), name(to))
		}
	}
	f.entry("main", name(0))
	if n > 3 {
		f.entry("admin", name(1))
	}

	return f
}

type snapshot map[string][]string

func snapshotOf(f *fixture, cg *ChunkGraph) snapshot {
	s := make(snapshot)
	for _, c := range cg.Chunks {
		var names []string
		for _, id := range c.Modules {
			names = append(names, f.g.Get(id).Name)
		}
		s[c.Name+"/"+c.Kind.String()] = names
	}
	return s
}

func TestSplitProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	c := constraints(5000, defaultGroup())

	properties.Property("every reachable module is placed", prop.ForAll(
		func(n int, seeds []int) bool {
			f := randomFixture(n, seeds, false)
			cg := f.split(t, c)

			for _, e := range f.g.Entries() {
				for _, id := range f.g.Reachable(e.Root, func(module.Edge) bool { return true }) {
					if len(cg.ChunksOf(id)) == 0 {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(2, 12),
		gen.SliceOfN(24, gen.IntRange(0, 1_000_000)),
	))

	properties.Property("split is independent of insertion order", prop.ForAll(
		func(n int, seeds []int) bool {
			a := randomFixture(n, seeds, false)
			b := randomFixture(n, seeds, true)
			return reflect.DeepEqual(snapshotOf(a, a.split(t, c)), snapshotOf(b, b.split(t, c)))
		},
		gen.IntRange(2, 12),
		gen.SliceOfN(24, gen.IntRange(0, 1_000_000)),
	))

	properties.Property("chunk dependencies load first", prop.ForAll(
		func(n int, seeds []int) bool {
			f := randomFixture(n, seeds, false)
			cg := f.split(t, c)

			pos := make(map[string]int, len(cg.Chunks))
			for i, ch := range cg.Chunks {
				pos[ch.Name] = i
			}
			for i, ch := range cg.Chunks {
				for _, d := range ch.Deps {
					if pos[d] >= i {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(2, 12),
		gen.SliceOfN(24, gen.IntRange(0, 1_000_000)),
	))

	properties.TestingRun(t)
}
