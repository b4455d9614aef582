package transform

import (
	"strings"
)

// Import is an import found in script code. Start and End delimit the
// import or require keyword so emitters can rewrite the call.
type Import struct {
	Specifier string
	Dynamic   bool
	Start     int
	End       int
}

// StyleRef is a reference found in stylesheet code. Start and End delimit
// the specifier text inside the url() or @import.
type StyleRef struct {
	Specifier string
	// Import is true for @import, false for url().
	Import bool
	// Condition is the media query, supports() or layer() text that follows
	// an @import target, trimmed.
	Condition string
	Start     int
	End       int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func skipSpaces(code []byte, i int) int {
	for i < len(code) && isSpace(code[i]) {
		i++
	}
	return i
}

func skipLineComment(code []byte, i int) int {
	for i < len(code) && code[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(code []byte, i int) int {
	i += 2
	for i+1 < len(code) && !(code[i] == '*' && code[i+1] == '/') {
		i++
	}
	return min(i+2, len(code))
}

func skipSpacesAndComments(code []byte, i int) int {
	for i < len(code) {
		i = skipSpaces(code, i)
		if i+1 < len(code) && code[i] == '/' && code[i+1] == '/' {
			i = skipLineComment(code, i)
			continue
		}
		if i+1 < len(code) && code[i] == '/' && code[i+1] == '*' {
			i = skipBlockComment(code, i)
			continue
		}
		break
	}
	return i
}

// skipString returns the index after the closing quote.
func skipString(code []byte, i int) int {
	quote := code[i]
	i++
	for i < len(code) {
		switch code[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			if quote != '`' {
				return i
			}
		}
		i++
	}
	return i
}

// stringLiteral reads a plain string literal at i. Template literals with
// substitutions are not specifiers and report ok=false.
func stringLiteral(code []byte, i int) (value string, start, end, next int, ok bool) {
	if i >= len(code) {
		return "", 0, 0, i, false
	}
	quote := code[i]
	if quote != '"' && quote != '\'' && quote != '`' {
		return "", 0, 0, i, false
	}
	next = skipString(code, i)
	start, end = i+1, next-1
	if end < start || next > len(code) || code[next-1] != quote {
		return "", 0, 0, next, false
	}
	value = string(code[start:end])
	if strings.ContainsRune(value, '\\') || (quote == '`' && strings.Contains(value, "${")) {
		return "", 0, 0, next, false
	}
	return value, start, end, next, true
}

// exprKeywords are keywords that an expression, and so a regex literal,
// may follow: `return /"/.test(s)` divides nothing.
var exprKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "instanceof": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true, "of": true,
}

// regexAllowed reports whether a '/' after prev starts a regex literal.
// prev is 'k' after an expression keyword and 'a' after any other word.
func regexAllowed(prev byte) bool {
	return prev == 0 || strings.IndexByte("(,=:[!&|?{};+-*%<>~^k", prev) >= 0
}

func skipRegex(code []byte, i int) int {
	i++
	inClass := false
	for i < len(code) {
		switch c := code[i]; {
		case c == '\\':
			i += 2
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			i++
			for i < len(code) && isIdentChar(code[i]) {
				i++
			}
			return i
		case c == '\n':
			return i
		}
		i++
	}
	return i
}

// ScanScript finds require("x"), import("x"), import ... from "x",
// import "x" and export ... from "x" in source order. Comments, strings
// and regex literals are skipped, so imports mentioned inside them are not
// reported.
func ScanScript(code []byte) []Import {
	var out []Import
	var prev byte

	for i := 0; i < len(code); {
		c := code[i]
		switch {
		case isSpace(c):
			i++
			continue
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			i = skipLineComment(code, i)
			continue
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			i = skipBlockComment(code, i)
			continue
		case c == '"' || c == '\'' || c == '`':
			i = skipString(code, i)
			prev = c
			continue
		case c == '/' && regexAllowed(prev):
			i = skipRegex(code, i)
			prev = 'r'
			continue
		case isIdentChar(c):
			start := i
			for i < len(code) && isIdentChar(code[i]) {
				i++
			}
			word := string(code[start:i])
			if prev == '.' {
				prev = 'a'
				continue
			}
			prev = 'a'
			if exprKeywords[word] {
				prev = 'k'
			}

			switch word {
			case "require":
				if imp, next, ok := scanCall(code, start, i); ok {
					out = append(out, imp)
					i = next
					prev = ')'
				}
			case "import":
				j := skipSpacesAndComments(code, i)
				if j < len(code) && code[j] == '(' {
					if imp, next, ok := scanCall(code, start, i); ok {
						imp.Dynamic = true
						out = append(out, imp)
						i = next
						prev = ')'
					}
					continue
				}
				if j < len(code) && code[j] == '.' {
					continue
				}
				if spec, _, _, next, ok := stringLiteral(code, j); ok {
					out = append(out, Import{Specifier: spec, Start: start, End: i})
					i = next
					continue
				}
				if imp, next, ok := scanFromClause(code, start, i); ok {
					out = append(out, imp)
					i = next
				}
			case "export":
				if imp, next, ok := scanFromClause(code, start, i); ok {
					out = append(out, imp)
					i = next
				}
			}
			continue
		}
		prev = c
		i++
	}

	return out
}

// scanCall matches `(` "spec" `)` after a keyword ending at i.
func scanCall(code []byte, kwStart, i int) (Import, int, bool) {
	j := skipSpacesAndComments(code, i)
	if j >= len(code) || code[j] != '(' {
		return Import{}, i, false
	}
	j = skipSpacesAndComments(code, j+1)
	spec, _, _, next, ok := stringLiteral(code, j)
	if !ok {
		return Import{}, i, false
	}
	j = skipSpacesAndComments(code, next)
	if j >= len(code) || code[j] != ')' {
		return Import{}, i, false
	}

	return Import{Specifier: spec, Start: kwStart, End: i}, j + 1, true
}

// scanFromClause skips an import/export binding list and matches
// `from "spec"`. Anything else (export const, export default ...) fails.
func scanFromClause(code []byte, kwStart, i int) (Import, int, bool) {
	j := i
	for j < len(code) {
		j = skipSpacesAndComments(code, j)
		if j >= len(code) {
			break
		}
		c := code[j]
		switch {
		case c == '{' || c == '}' || c == ',' || c == '*':
			j++
		case isIdentChar(c):
			start := j
			for j < len(code) && isIdentChar(code[j]) {
				j++
			}
			if string(code[start:j]) != "from" {
				continue
			}
			k := skipSpacesAndComments(code, j)
			if spec, _, _, next, ok := stringLiteral(code, k); ok {
				return Import{Specifier: spec, Start: kwStart, End: i}, next, true
			}
		default:
			return Import{}, i, false
		}
	}

	return Import{}, i, false
}

// ScanStylesheet finds @import targets and url() references in source
// order. Data URIs, absolute URLs and fragment references are skipped.
func ScanStylesheet(code []byte) []StyleRef {
	var out []StyleRef

	for i := 0; i < len(code); {
		c := code[i]
		switch {
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			i = skipBlockComment(code, i)
		case c == '"' || c == '\'':
			i = skipString(code, i)
		case c == '@' && hasWordAt(code, i+1, "import"):
			j := skipSpacesAndComments(code, i+7)
			if spec, start, end, next, ok := stringLiteral(code, j); ok {
				if isLocalRef(spec) {
					out = append(out, StyleRef{
						Specifier: spec,
						Import:    true,
						Condition: importCondition(code, next),
						Start:     start,
						End:       end,
					})
				}
				i = next
				continue
			}
			if ref, next, ok := scanURL(code, j); ok {
				if isLocalRef(ref.Specifier) {
					ref.Import = true
					ref.Condition = importCondition(code, next)
					out = append(out, ref)
				}
				i = next
				continue
			}
			i = j
		case (c == 'u' || c == 'U') && hasPrefixFold(code, i, "url(") && (i == 0 || !isIdentChar(code[i-1]) && code[i-1] != '-'):
			if ref, next, ok := scanURL(code, i); ok {
				if isLocalRef(ref.Specifier) {
					out = append(out, ref)
				}
				i = next
				continue
			}
			i += 4
		default:
			i++
		}
	}

	return out
}

// importCondition returns the text between an @import target ending at i
// and the terminating semicolon.
func importCondition(code []byte, i int) string {
	end := i
	for end < len(code) && code[end] != ';' && code[end] != '{' && code[end] != '}' {
		end++
	}
	return strings.TrimSpace(string(code[i:end]))
}

func hasWordAt(code []byte, i int, word string) bool {
	if i+len(word) > len(code) || string(code[i:i+len(word)]) != word {
		return false
	}
	end := i + len(word)
	return end >= len(code) || !isIdentChar(code[end])
}

func hasPrefixFold(code []byte, i int, prefix string) bool {
	return i+len(prefix) <= len(code) && strings.EqualFold(string(code[i:i+len(prefix)]), prefix)
}

// scanURL reads url(...) at i, quoted or unquoted.
func scanURL(code []byte, i int) (StyleRef, int, bool) {
	if !hasPrefixFold(code, i, "url(") {
		return StyleRef{}, i, false
	}
	j := skipSpaces(code, i+4)
	if j < len(code) && (code[j] == '"' || code[j] == '\'') {
		spec, start, end, next, ok := stringLiteral(code, j)
		if !ok {
			return StyleRef{}, i, false
		}
		k := skipSpaces(code, next)
		if k >= len(code) || code[k] != ')' {
			return StyleRef{}, i, false
		}
		return StyleRef{Specifier: spec, Start: start, End: end}, k + 1, true
	}

	start := j
	for j < len(code) && code[j] != ')' && !isSpace(code[j]) {
		j++
	}
	end := j
	j = skipSpaces(code, j)
	if j >= len(code) || code[j] != ')' || end == start {
		return StyleRef{}, i, false
	}

	return StyleRef{Specifier: string(code[start:end]), Start: start, End: end}, j + 1, true
}

// isLocalRef reports whether a stylesheet reference names a project file.
func isLocalRef(spec string) bool {
	lower := strings.ToLower(spec)
	switch {
	case spec == "",
		strings.HasPrefix(lower, "data:"),
		strings.HasPrefix(lower, "http:"),
		strings.HasPrefix(lower, "https:"),
		strings.HasPrefix(spec, "//"),
		strings.HasPrefix(spec, "#"):
		return false
	}
	return true
}
