// Package split partitions a module graph into output chunks.
//
// Entry chunks hold the static closure of each entry. Every dynamic import
// target seeds an async chunk holding its static closure minus whatever is
// already loaded by every chunk that imports it. Cache groups then move
// modules shared by several chunks, or matching a vendor pattern, into
// shared chunks. Candidates are applied greedily in a total order, so the
// partition depends only on the graph and the constraints.
package split

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fortio.org/safecast"
	graphlib "github.com/dominikbraun/graph"

	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
)

// work is a chunk under construction.
type work struct {
	index int
	name  string
	kind  ChunkKind
	root  module.ID
	// hasRoot is false for shared chunks.
	hasRoot bool

	// reach is the full static closure, used for availability.
	reach     bitset
	reachList []module.ID

	members bitset
	size    int64

	parents []int
	deps    []int
	dropped bool
}

func (w *work) addParent(i int) {
	for _, p := range w.parents {
		if p == i {
			return
		}
	}
	w.parents = append(w.parents, i)
}

func (w *work) hasDep(i int) bool {
	for _, d := range w.deps {
		if d == i {
			return true
		}
	}
	return false
}

type splitter struct {
	g     *module.Graph
	c     Constraints
	works []*work
	names map[string]int

	asyncByRoot map[module.ID]int
}

// Split partitions g under c. The graph must be canonicalized.
func Split(g *module.Graph, c Constraints) (*ChunkGraph, error) {
	if len(g.Entries()) == 0 {
		return nil, errors.NewConstraintViolation("entries", "no entry points to split")
	}

	s := &splitter{
		g:           g,
		c:           c,
		names:       make(map[string]int),
		asyncByRoot: make(map[module.ID]int),
	}
	s.seed()
	s.prune()
	s.apply(s.candidates())

	return s.finish()
}

func (s *splitter) closure(root module.ID) []module.ID {
	ids := s.g.Reachable(root, func(e module.Edge) bool {
		return e.Kind == module.ImportStatic && s.g.Get(e.Target).Kind != module.KindStylesheet
	})
	out := ids[:0]
	for _, id := range ids {
		if s.g.Get(id).Kind != module.KindStylesheet {
			out = append(out, id)
		}
	}
	s.g.SortByOrder(out)
	return out
}

func (s *splitter) newWork(name string, kind ChunkKind, root module.ID, hasRoot bool) *work {
	w := &work{
		index:   len(s.works),
		name:    s.uniqueName(name),
		kind:    kind,
		root:    root,
		hasRoot: hasRoot,
		reach:   newBitset(s.g.Len()),
		members: newBitset(s.g.Len()),
	}
	if hasRoot {
		w.reachList = s.closure(root)
		for _, id := range w.reachList {
			w.reach.set(int(id))
		}
	}
	s.works = append(s.works, w)
	s.names[w.name] = w.index

	return w
}

// uniqueName makes name filename-safe and distinct from existing chunks.
func (s *splitter) uniqueName(name string) string {
	name = sanitize(name)
	if _, taken := s.names[name]; !taken {
		return name
	}
	for n := 2; ; n++ {
		candidate := name + "-" + strconv.Itoa(n)
		if _, taken := s.names[candidate]; !taken {
			return candidate
		}
	}
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '~', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "chunk"
	}
	return out
}

// asyncName derives a chunk name from a module name: "src/pages/about.js"
// becomes "src-pages-about".
func asyncName(m *module.Module) string {
	name, _ := module.SplitQuery(m.Name)
	if i := strings.LastIndexByte(name, '.'); i > strings.LastIndexByte(name, '/') {
		name = name[:i]
	}
	return name
}

// seed creates entry chunks and discovers async chunks breadth-first from
// them, scanning modules in canonical order.
func (s *splitter) seed() {
	for _, e := range s.g.Entries() {
		s.newWork(e.Name, ChunkEntry, e.Root, true)
	}

	for qi := 0; qi < len(s.works); qi++ {
		w := s.works[qi]
		for _, id := range w.reachList {
			for _, e := range s.g.Get(id).Edges {
				if e.Kind != module.ImportDynamic {
					continue
				}
				if idx, ok := s.asyncByRoot[e.Target]; ok {
					s.works[idx].addParent(qi)
					continue
				}
				a := s.newWork(asyncName(s.g.Get(e.Target)), ChunkAsync, e.Target, true)
				a.addParent(qi)
				s.asyncByRoot[e.Target] = a.index
			}
		}
	}
}

// prune removes from each async chunk the modules already loaded by every
// importer. Availability is a fixed point because async chunks may import
// each other.
func (s *splitter) prune() {
	n := s.g.Len()
	before := make([]bitset, len(s.works))
	for i, w := range s.works {
		if w.kind == ChunkEntry {
			before[i] = newBitset(n)
		}
	}

	for changed := true; changed; {
		changed = false
		for i, w := range s.works {
			if w.kind != ChunkAsync {
				continue
			}
			var acc bitset
			for _, p := range w.parents {
				if before[p] == nil {
					continue
				}
				avail := before[p].clone().or(s.works[p].reach)
				if acc == nil {
					acc = avail
				} else {
					acc.and(avail)
				}
			}
			if acc == nil {
				continue
			}
			if before[i] == nil || !before[i].equal(acc) {
				before[i] = acc
				changed = true
			}
		}
	}

	for i, w := range s.works {
		avail := before[i]
		if avail == nil {
			avail = newBitset(n)
		}
		for _, id := range w.reachList {
			if !avail.has(int(id)) {
				w.members.set(int(id))
				w.size += s.g.Get(id).Size()
			}
		}
		if w.kind == ChunkAsync && w.members.count() == 0 && s.g.Get(w.root).Kind != module.KindStylesheet {
			w.dropped = true
		}
	}
}

// candidate is a proposed shared chunk.
type candidate struct {
	group   *CacheGroup
	name    string
	members bitset
	list    []module.ID
	donors  []int
	size    int64
	// tieKey orders candidates with equal priority and size: sorted donor
	// names, then the group key.
	tieKey string
}

func (s *splitter) selectChunks(chunks []int, selection string) []int {
	if selection == ChunksAll {
		return chunks
	}
	var out []int
	for _, i := range chunks {
		k := s.works[i].kind
		if (selection == ChunksInitial && k == ChunkEntry) || (selection == ChunksAsync && k == ChunkAsync) {
			out = append(out, i)
		}
	}
	return out
}

func (s *splitter) sortedNames(indices []int) []string {
	names := make([]string, 0, len(indices))
	for _, i := range indices {
		names = append(names, s.works[i].name)
	}
	sort.Strings(names)
	return names
}

// candidates groups modules by cache group and chunk set. A group with a
// fixed name collects all its modules into one candidate.
func (s *splitter) candidates() []*candidate {
	memberOf := make([][]int, s.g.Len())
	for i, w := range s.works {
		if w.dropped {
			continue
		}
		for _, id := range w.reachList {
			if w.members.has(int(id)) {
				memberOf[id] = append(memberOf[id], i)
			}
		}
	}

	byKey := make(map[string]*candidate)
	var out []*candidate

	for _, m := range s.g.Ordered() {
		chunks := memberOf[m.ID]
		if len(chunks) == 0 {
			continue
		}
		for gi := range s.c.CacheGroups {
			grp := &s.c.CacheGroups[gi]
			if !grp.matches(m) {
				continue
			}
			selected := s.selectChunks(chunks, s.c.chunksFor(grp))
			if len(selected) < s.c.minChunksFor(grp) {
				continue
			}

			key := grp.Key + "\x00" + grp.Name
			if grp.Name == "" {
				key = grp.Key + "\x00" + strings.Join(s.sortedNames(selected), "\x00")
			}
			cand, ok := byKey[key]
			if !ok {
				cand = &candidate{group: grp, name: grp.Name, members: newBitset(s.g.Len())}
				byKey[key] = cand
				out = append(out, cand)
			}
			cand.members.set(int(m.ID))
			cand.list = append(cand.list, m.ID)
			cand.size += m.Size()
			cand.donors = unionSorted(cand.donors, selected)
		}
	}

	for _, cand := range out {
		cand.tieKey = strings.Join(s.sortedNames(cand.donors), "\x00") + "\x01" + cand.group.Key
	}

	return out
}

func unionSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// better reports whether a ranks ahead of b: higher priority, then larger
// reclaimed size, then lexical tie key.
func better(a, b *candidate) bool {
	if a.group.Priority != b.group.Priority {
		return a.group.Priority > b.group.Priority
	}
	if a.size != b.size {
		return a.size > b.size
	}
	return a.tieKey < b.tieKey
}

func (s *splitter) apply(cands []*candidate) {
	for len(cands) > 0 {
		best := 0
		for i := 1; i < len(cands); i++ {
			if better(cands[i], cands[best]) {
				best = i
			}
		}
		cand := cands[best]
		cands = append(cands[:best], cands[best+1:]...)

		if len(cand.list) == 0 {
			continue
		}
		kept, moved := s.applyCandidate(cand)
		if moved == nil {
			continue
		}
		cands = s.forget(cands, kept, moved)
	}
}

// applyCandidate moves cand's modules out of the donors that pass every
// constraint. It returns the donors used and the moved modules, or nil
// when the candidate is rejected.
func (s *splitter) applyCandidate(cand *candidate) ([]int, bitset) {
	grp := cand.group
	if cand.size < s.c.minSizeFor(grp) {
		return nil, nil
	}
	enforced := grp.Enforce || (s.c.EnforceSizeThreshold > 0 && cand.size >= s.c.EnforceSizeThreshold)

	var donors []int
	for _, d := range cand.donors {
		if s.holdsAny(s.works[d], cand.members) {
			donors = append(donors, d)
		}
	}

	var target *work
	if grp.ReuseExistingChunk {
		for _, d := range donors {
			w := s.works[d]
			if w.kind == ChunkAsync && w.members.equal(cand.members) {
				target = w
				break
			}
		}
	}
	if target == nil && cand.name != "" {
		if idx, ok := s.names[sanitize(cand.name)]; ok && s.works[idx].kind == ChunkShared {
			target = s.works[idx]
		}
	}

	kept := make([]int, 0, len(donors))
	movable := 0
	for _, d := range donors {
		w := s.works[d]
		if w == target {
			kept = append(kept, d)
			continue
		}
		if !enforced && !s.withinRequestCap(w, target) {
			continue
		}
		count, size := s.overlap(w, cand.members)
		remaining := w.members.count() - count
		if remaining == 0 && !grp.Enforce {
			continue
		}
		if !grp.Enforce && len(donors) == 1 && s.c.MinRemainingSize > 0 && w.size-size < s.c.MinRemainingSize {
			continue
		}
		kept = append(kept, d)
		movable++
	}

	if movable == 0 || len(kept) < s.c.minChunksFor(grp) {
		return nil, nil
	}

	if target == nil {
		name := cand.name
		if name == "" {
			name = grp.Key + "-" + strings.Join(s.sortedNames(kept), "~")
		}
		target = s.newWork(name, ChunkShared, 0, false)
	}

	moved := newBitset(s.g.Len())
	for _, d := range kept {
		w := s.works[d]
		if w == target {
			continue
		}
		for _, id := range cand.list {
			if !w.members.has(int(id)) {
				continue
			}
			size := s.g.Get(id).Size()
			w.members.clear(int(id))
			w.size -= size
			moved.set(int(id))
			if !target.members.has(int(id)) {
				target.members.set(int(id))
				target.size += size
			}
		}
		if !w.hasDep(target.index) {
			w.deps = append(w.deps, target.index)
		}
		target.addParent(d)
	}

	return kept, moved
}

func (s *splitter) holdsAny(w *work, set bitset) bool {
	for i := range w.members {
		if w.members[i]&set[i] != 0 {
			return true
		}
	}
	return false
}

func (s *splitter) overlap(w *work, set bitset) (int, int64) {
	count, size := 0, int64(0)
	for _, id := range w.reachList {
		if w.members.has(int(id)) && set.has(int(id)) {
			count++
			size += s.g.Get(id).Size()
		}
	}
	return count, size
}

// withinRequestCap reports whether w may depend on one more chunk.
func (s *splitter) withinRequestCap(w *work, target *work) bool {
	limit := s.c.MaxAsyncRequests
	if w.kind == ChunkEntry {
		limit = s.c.MaxInitialRequests
	}
	if limit <= 0 {
		return true
	}
	requests := 1 + len(w.deps)
	if target == nil || !w.hasDep(target.index) {
		requests++
	}
	return requests <= limit
}

// forget drops moved modules from every remaining candidate that shares a
// donor with the applied one.
func (s *splitter) forget(cands []*candidate, kept []int, moved bitset) []*candidate {
	out := cands[:0]
	for _, c := range cands {
		if sharesDonor(c.donors, kept) {
			list := c.list[:0]
			c.size = 0
			for _, id := range c.list {
				if moved.has(int(id)) {
					c.members.clear(int(id))
					continue
				}
				list = append(list, id)
				c.size += s.g.Get(id).Size()
			}
			c.list = list
		}
		if len(c.list) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func sharesDonor(a, b []int) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// parentNames maps parent indices to names, replacing dropped chunks by
// their own parents.
func (s *splitter) parentNames(w *work) []string {
	seen := make(map[int]bool)
	var out []string
	var visit func(i int)
	visit = func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true
		p := s.works[i]
		if p.dropped {
			for _, pp := range p.parents {
				visit(pp)
			}
			return
		}
		out = append(out, p.name)
	}
	for _, p := range w.parents {
		visit(p)
	}
	sort.Strings(out)
	return out
}

// finish orders the chunks topologically, creation order breaking ties,
// and builds the ChunkGraph.
func (s *splitter) finish() (*ChunkGraph, error) {
	deps := graphlib.New(graphlib.StringHash, graphlib.Directed(), graphlib.PreventCycles())
	created := make(map[string]int)
	for _, w := range s.works {
		if w.dropped {
			continue
		}
		created[w.name] = w.index
		if err := deps.AddVertex(w.name); err != nil {
			return nil, errors.NewInternalError("adding chunk "+w.name, err)
		}
	}
	for _, w := range s.works {
		if w.dropped {
			continue
		}
		for _, d := range w.deps {
			if err := deps.AddEdge(s.works[d].name, w.name); err != nil {
				return nil, errors.NewInternalError(
					fmt.Sprintf("chunk %s cannot depend on %s", w.name, s.works[d].name), err)
			}
		}
	}

	order, err := graphlib.StableTopologicalSort(deps, func(a, b string) bool {
		return created[a] < created[b]
	})
	if err != nil {
		return nil, errors.NewInternalError("ordering chunks", err)
	}
	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}

	cg := &ChunkGraph{
		byName: make(map[string]*Chunk, len(order)),
		async:  make(map[module.ID]string),
	}
	ordered := s.g.Ordered()

	for i, name := range order {
		w := s.works[created[name]]
		id, err := safecast.Conv[uint32](i)
		if err != nil {
			return nil, errors.NewInternalError("too many chunks", err)
		}
		c := &Chunk{
			ID:      id,
			Name:    w.name,
			Kind:    w.kind,
			Root:    w.root,
			HasRoot: w.hasRoot,
			Parents: s.parentNames(w),
			Size:    w.size,
		}
		for _, m := range ordered {
			if w.members.has(int(m.ID)) {
				c.Modules = append(c.Modules, m.ID)
			}
		}
		for _, d := range w.deps {
			c.Deps = append(c.Deps, s.works[d].name)
		}
		sort.Slice(c.Deps, func(a, b int) bool { return position[c.Deps[a]] < position[c.Deps[b]] })

		cg.Chunks = append(cg.Chunks, c)
		cg.byName[c.Name] = c
	}

	for root, idx := range s.asyncByRoot {
		w := s.works[idx]
		if w.dropped {
			cg.async[root] = ""
			continue
		}
		cg.async[root] = w.name
	}

	return cg, nil
}

func sortChunksByName(chunks []*Chunk) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Name < chunks[j].Name })
}
