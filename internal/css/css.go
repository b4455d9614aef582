// Package css extracts stylesheet modules into per-root bundles and purges
// rules that no retained code refers to.
//
// Purging is a token heuristic, not an analysis: a selector survives when
// every class, id and type name it needs appears as a whole token in some
// retained script or content file. Keeping an unused rule is acceptable;
// dropping a used one is not, so anything the tokenizer cannot judge is
// kept.
package css

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/transform"
)

// Root is a bundle root: an entry module or an async split point.
type Root struct {
	Name   string
	Module module.ID
	// Parents name bundles already loaded when this root loads. A sheet
	// present in every parent bundle is left out of this one.
	Parents []string
}

// Options configures extraction.
type Options struct {
	PublicPath string
	Purge      bool
	Safelist   []*regexp.Regexp
	// Content holds tokens from content files. Script tokens are added
	// from the graph.
	Content *Tokens
}

// Bundle is the merged stylesheet for one root.
type Bundle struct {
	Name string
	// Sheets lists the stylesheet modules in emission order.
	Sheets           []module.ID
	CSS              []byte
	RulesRemoved     int
	SelectorsRemoved int
}

// ExtractAndPurge builds one bundle per root that reaches any stylesheet.
// Roots must be ordered so parents precede their children.
func ExtractAndPurge(g *module.Graph, roots []Root, opts Options) (map[string]*Bundle, []errors.Warning, error) {
	tokens := opts.Content
	if tokens == nil {
		tokens = NewTokens()
	}
	if opts.Purge {
		for _, m := range g.Ordered() {
			if m.Kind == module.KindScript {
				tokens.AddText(m.Source)
				tokens.AddText(m.Code)
			}
		}
	}

	bundles := make(map[string]*Bundle, len(roots))
	hits := make([]int, len(opts.Safelist))

	for _, root := range roots {
		if int(root.Module) >= g.Len() {
			return nil, nil, errors.NewInternalError(fmt.Sprintf("bundle root %q references unknown module %d", root.Name, root.Module), nil)
		}

		collected, wrappers := collectSheets(g, root.Module)
		sheets := excludeLoaded(collected, root.Parents, bundles)
		if len(sheets) == 0 {
			continue
		}

		var b strings.Builder
		for _, id := range sheets {
			for _, w := range wrappers[id] {
				b.WriteString(w)
				b.WriteString(" {\n")
			}
			b.Write(rewriteSheet(g, g.Get(id), opts.PublicPath))
			for range wrappers[id] {
				b.WriteString("\n}")
			}
			b.WriteByte('\n')
		}

		bundle := &Bundle{Name: root.Name, Sheets: sheets, CSS: []byte(b.String())}
		if opts.Purge {
			res := Purge(bundle.CSS, tokens, opts.Safelist)
			bundle.CSS = res.CSS
			bundle.RulesRemoved = res.RulesRemoved
			bundle.SelectorsRemoved = res.SelectorsRemoved
			for i, n := range res.SafelistHits {
				hits[i] += n
			}
		}
		bundles[root.Name] = bundle
	}

	var warnings []errors.Warning
	if opts.Purge {
		for i, re := range opts.Safelist {
			if hits[i] == 0 {
				warnings = append(warnings, errors.Warning{
					Code:      errors.ErrCodeSafelistUnmatched,
					Component: "css",
					Message:   fmt.Sprintf("safelist pattern %q matched no selector", re.String()),
				})
			}
		}
	}

	return bundles, warnings, nil
}

// collectSheets returns the stylesheets reachable from root without
// crossing a dynamic import. Sheets follow the scripts that import them in
// canonical order, and a sheet's own @imports precede it.
//
// The second result maps a sheet reached only through conditional @imports
// to the block preludes that reproduce the condition, outermost first. A
// sheet reached both ways is unconditional; between two conditions the
// first discovered wins.
func collectSheets(g *module.Graph, root module.ID) ([]module.ID, map[module.ID][]string) {
	var out []module.ID
	seen := make(map[module.ID]bool)
	wrappers := make(map[module.ID][]string)

	var visit func(id module.ID, outer []string)
	visit = func(id module.ID, outer []string) {
		if seen[id] {
			if _, ok := wrappers[id]; ok && len(outer) == 0 {
				delete(wrappers, id)
				for _, e := range sheetImports(g, id) {
					visit(e.Target, conditionWrappers(e.Condition))
				}
			}
			return
		}
		seen[id] = true
		if len(outer) > 0 {
			wrappers[id] = outer
		}
		for _, e := range sheetImports(g, id) {
			inner := append(append([]string(nil), outer...), conditionWrappers(e.Condition)...)
			visit(e.Target, inner)
		}
		out = append(out, id)
	}

	if g.Get(root).Kind == module.KindStylesheet {
		visit(root, nil)
		return out, wrappers
	}

	scripts := g.Reachable(root, func(e module.Edge) bool { return e.Kind == module.ImportStatic })
	for _, id := range scripts {
		for _, e := range g.Get(id).Edges {
			if e.Kind == module.ImportStylesheet {
				visit(e.Target, nil)
			}
		}
	}

	return out, wrappers
}

func sheetImports(g *module.Graph, id module.ID) []module.Edge {
	var out []module.Edge
	for _, e := range g.Get(id).Edges {
		if e.Kind != module.ImportDynamic && g.Get(e.Target).Kind == module.KindStylesheet {
			out = append(out, e)
		}
	}
	return out
}

// conditionWrappers turns an @import condition into the at-rule preludes
// that scope an inlined sheet the same way: layer, then supports, then
// media.
func conditionWrappers(cond string) []string {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}
	var out []string

	if name, rest, ok := cutFunction(cond, "layer"); ok {
		out = append(out, "@layer "+strings.TrimSpace(name))
		cond = rest
	} else if hasKeyword(cond, "layer") {
		out = append(out, "@layer")
		cond = strings.TrimSpace(cond[len("layer"):])
	}

	if test, rest, ok := cutFunction(cond, "supports"); ok {
		test = strings.TrimSpace(test)
		if !strings.HasPrefix(test, "(") && !strings.HasPrefix(test, "not ") && !strings.HasPrefix(test, "selector(") {
			test = "(" + test + ")"
		}
		out = append(out, "@supports "+test)
		cond = rest
	}

	if cond != "" {
		out = append(out, "@media "+cond)
	}

	return out
}

// cutFunction matches name(...) at the start of s, with balanced
// parentheses, and returns the argument text and the trimmed remainder.
func cutFunction(s, name string) (arg, rest string, ok bool) {
	if len(s) <= len(name) || !strings.EqualFold(s[:len(name)], name) || s[len(name)] != '(' {
		return "", s, false
	}
	depth := 0
	for i := len(name); i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[len(name)+1 : i], strings.TrimSpace(s[i+1:]), true
			}
		}
	}
	return "", s, false
}

func hasKeyword(s, word string) bool {
	if len(s) < len(word) || !strings.EqualFold(s[:len(word)], word) {
		return false
	}
	return len(s) == len(word) || s[len(word)] == ' ' || s[len(word)] == '\t' || s[len(word)] == '\n'
}

// excludeLoaded drops sheets that every known parent bundle already holds.
func excludeLoaded(sheets []module.ID, parents []string, bundles map[string]*Bundle) []module.ID {
	if len(parents) == 0 {
		return sheets
	}

	var count map[module.ID]int
	known := 0
	for _, name := range parents {
		b, ok := bundles[name]
		if !ok {
			// A parent without stylesheets holds nothing.
			return sheets
		}
		known++
		if count == nil {
			count = make(map[module.ID]int)
		}
		for _, id := range b.Sheets {
			count[id]++
		}
	}

	out := sheets[:0:0]
	for _, id := range sheets {
		if count[id] < known {
			out = append(out, id)
		}
	}

	return out
}

// rewriteSheet removes @import rules, whose targets are inlined into the
// bundle under their conditions, and points url() references at the asset
// decision.
func rewriteSheet(g *module.Graph, m *module.Module, publicPath string) []byte {
	targets := make(map[string]*module.Module, len(m.Edges))
	for _, e := range m.Edges {
		targets[e.Specifier] = g.Get(e.Target)
	}

	code := m.Code
	var b strings.Builder
	b.Grow(len(code))
	cursor := 0

	for _, ref := range transform.ScanStylesheet(code) {
		if ref.Start < cursor {
			continue
		}
		target, ok := targets[ref.Specifier]
		if !ok {
			continue
		}

		if ref.Import {
			if target.Kind != module.KindStylesheet {
				continue
			}
			start := strings.LastIndex(string(code[cursor:ref.Start]), "@import")
			if start < 0 {
				continue
			}
			start += cursor
			end := len(code)
			if semi := strings.IndexByte(string(code[ref.End:]), ';'); semi >= 0 {
				end = ref.End + semi + 1
			}
			b.Write(code[cursor:start])
			cursor = end
			continue
		}

		if target.Asset == nil {
			continue
		}
		b.Write(code[cursor:ref.Start])
		b.WriteString(target.Asset.URL(publicPath))
		cursor = ref.End
	}
	b.Write(code[cursor:])

	return []byte(b.String())
}
