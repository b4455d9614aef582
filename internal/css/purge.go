package css

import (
	"regexp"
	"strings"
)

type nodeKind uint8

const (
	nodeRule nodeKind = iota
	nodeAtBlock
	nodeAtStatement
	nodeRaw
)

// node is one top-level item of a stylesheet. Only conditional group
// at-rules are parsed into children; everything else is kept verbatim.
type node struct {
	kind     nodeKind
	name     string
	prelude  string
	body     string
	children []*node
}

// groupRules are the at-rules whose blocks contain rules that are purged
// recursively.
var groupRules = map[string]bool{
	"media":          true,
	"supports":       true,
	"layer":          true,
	"container":      true,
	"document":       true,
	"-moz-document":  true,
	"scope":          true,
	"starting-style": true,
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func skipComment(s string, i int) int {
	end := strings.Index(s[i+2:], "*/")
	if end < 0 {
		return len(s)
	}
	return i + 2 + end + 2
}

func skipQuoted(s string, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case quote, '\n':
			return i + 1
		}
		i++
	}
	return len(s)
}

// scanUntil returns the index of the first stop byte at nesting depth 0,
// skipping strings, comments and bracketed groups. It returns len(s) when
// none is found.
func scanUntil(s string, i int, stops string) int {
	depth := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			i = skipQuoted(s, i)
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i = skipComment(s, i)
			continue
		case c == '\\':
			i += 2
			continue
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0 && strings.IndexByte(stops, c) >= 0:
			return i
		}
		i++
	}
	return len(s)
}

// matchBrace returns the index of the '}' closing the '{' at i.
func matchBrace(s string, i int) int {
	depth := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			i = skipQuoted(s, i)
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i = skipComment(s, i)
			continue
		case c == '\\':
			i += 2
			continue
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return len(s)
}

// parse splits a stylesheet into top-level nodes. Comments between nodes
// are dropped.
func parse(s string) []*node {
	var out []*node

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case isSpace(c) || c == ';':
			i++
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i = skipComment(s, i)
			continue
		case c == '}':
			// Stray closing brace from malformed input.
			i++
			continue
		}

		if c == '@' {
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			name := strings.ToLower(s[i+1 : j])
			end := scanUntil(s, j, "{;")
			if end >= len(s) || s[end] == ';' {
				stop := min(end+1, len(s))
				out = append(out, &node{kind: nodeAtStatement, name: name, prelude: strings.TrimSpace(s[i:stop])})
				i = stop
				continue
			}
			closing := matchBrace(s, end)
			n := &node{
				kind:    nodeAtBlock,
				name:    name,
				prelude: strings.TrimSpace(s[i:end]),
				body:    s[end+1 : min(closing, len(s))],
			}
			if groupRules[name] {
				n.children = parse(n.body)
			}
			out = append(out, n)
			i = closing + 1
			continue
		}

		end := scanUntil(s, i, "{")
		if end >= len(s) {
			out = append(out, &node{kind: nodeRaw, prelude: strings.TrimSpace(s[i:])})
			break
		}
		closing := matchBrace(s, end)
		out = append(out, &node{
			kind:    nodeRule,
			prelude: strings.TrimSpace(s[i:end]),
			body:    s[end+1 : min(closing, len(s))],
		})
		i = closing + 1
	}

	return out
}

func render(nodes []*node, b *strings.Builder) {
	for _, n := range nodes {
		switch n.kind {
		case nodeRule:
			b.WriteString(n.prelude)
			b.WriteString(" {")
			b.WriteString(n.body)
			b.WriteString("}\n")
		case nodeAtBlock:
			b.WriteString(n.prelude)
			b.WriteString(" {")
			if n.children != nil {
				b.WriteString("\n")
				render(n.children, b)
			} else {
				b.WriteString(n.body)
			}
			b.WriteString("}\n")
		default:
			b.WriteString(n.prelude)
			b.WriteString("\n")
		}
	}
}

// splitSelectors splits a selector list at top-level commas.
func splitSelectors(prelude string) []string {
	var out []string
	for i := 0; i <= len(prelude); {
		end := scanUntil(prelude, i, ",")
		if sel := strings.TrimSpace(prelude[i:end]); sel != "" {
			out = append(out, sel)
		}
		i = end + 1
	}
	return out
}

// selectorTokens returns the class, id and type names a selector requires.
// ok is false when a name uses escapes or non-ASCII characters, which the
// token heuristic cannot match; such selectors are always kept.
func selectorTokens(sel string) (tokens []string, ok bool) {
	ok = true
	readIdent := func(i int) (string, int) {
		start := i
		for i < len(sel) {
			c := sel[i]
			if c == '\\' || c >= 0x80 {
				ok = false
				i++
				continue
			}
			if !isIdentChar(c) {
				break
			}
			i++
		}
		return sel[start:i], i
	}

	for i := 0; i < len(sel); {
		c := sel[i]
		switch {
		case c == '.' || c == '#':
			var name string
			name, i = readIdent(i + 1)
			if name != "" {
				tokens = append(tokens, name)
			}
		case c == '[':
			i = scanUntil(sel, i+1, "]") + 1
		case c == ':':
			for i < len(sel) && sel[i] == ':' {
				i++
			}
			_, i = readIdent(i)
			if i < len(sel) && sel[i] == '(' {
				// Arguments of :not(), :is() and friends never remove a rule.
				i = scanUntil(sel, i+1, ")") + 1
			}
		case isIdentChar(c) || c == '\\' || c >= 0x80:
			var name string
			name, i = readIdent(i)
			if name != "" {
				tokens = append(tokens, strings.ToLower(name))
			}
		case c == '"' || c == '\'':
			i = skipQuoted(sel, i)
		default:
			i++
		}
	}

	return tokens, ok
}

// purger removes rules whose selectors reference names absent from the
// token set.
type purger struct {
	tokens   *Tokens
	safelist []*regexp.Regexp
	// matched counts safelist hits by pattern index.
	matched []int

	rulesRemoved     int
	selectorsRemoved int
}

func newPurger(tokens *Tokens, safelist []*regexp.Regexp) *purger {
	return &purger{tokens: tokens, safelist: safelist, matched: make([]int, len(safelist))}
}

func (p *purger) safelisted(sel string) bool {
	hit := false
	for i, re := range p.safelist {
		if re.MatchString(sel) {
			p.matched[i]++
			hit = true
		}
	}
	return hit
}

func (p *purger) keepSelector(sel string) bool {
	if p.safelisted(sel) {
		return true
	}
	tokens, ok := selectorTokens(sel)
	if !ok {
		return true
	}
	for _, tok := range tokens {
		if !p.tokens.Has(tok) {
			return false
		}
	}
	return true
}

// purge filters nodes in place and returns the survivors.
func (p *purger) purge(nodes []*node) []*node {
	out := nodes[:0]
	for _, n := range nodes {
		switch n.kind {
		case nodeRule:
			sels := splitSelectors(n.prelude)
			kept := sels[:0]
			for _, sel := range sels {
				if p.keepSelector(sel) {
					kept = append(kept, sel)
				} else {
					p.selectorsRemoved++
				}
			}
			if len(kept) == 0 {
				p.rulesRemoved++
				continue
			}
			n.prelude = strings.Join(kept, ", ")
		case nodeAtBlock:
			if n.children != nil {
				n.children = p.purge(n.children)
				if len(n.children) == 0 {
					p.rulesRemoved++
					continue
				}
			}
		}
		out = append(out, n)
	}
	return out
}

// PurgeResult is the outcome of purging one stylesheet.
type PurgeResult struct {
	CSS []byte
	// SafelistHits counts matched selectors per safelist pattern.
	SafelistHits     []int
	RulesRemoved     int
	SelectorsRemoved int
}

// Purge removes rules from css whose selectors need a name missing from
// tokens.
func Purge(css []byte, tokens *Tokens, safelist []*regexp.Regexp) PurgeResult {
	p := newPurger(tokens, safelist)
	nodes := p.purge(parse(string(css)))

	var b strings.Builder
	render(nodes, &b)

	return PurgeResult{
		CSS:              []byte(b.String()),
		SafelistHits:     p.matched,
		RulesRemoved:     p.rulesRemoved,
		SelectorsRemoved: p.selectorsRemoved,
	}
}
