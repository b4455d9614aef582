package css

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/splitpack/internal/module"
)

// alwaysPresent are document-level elements every page has even when no
// script names them.
var alwaysPresent = []string{"html", "body"}

// textExts are content files tokenised as plain text.
var textExts = map[string]bool{
	".vue": true, ".svelte": true, ".md": true, ".txt": true,
	".hbs": true, ".ejs": true, ".njk": true, ".templ": true,
}

// Tokens is the set of whole identifier tokens seen in retained code and
// content files. A token is a maximal run of [A-Za-z0-9_-].
type Tokens struct {
	set map[string]struct{}
}

// NewTokens creates a token set seeded with document-level element names.
func NewTokens() *Tokens {
	t := &Tokens{set: make(map[string]struct{})}
	for _, name := range alwaysPresent {
		t.set[name] = struct{}{}
	}
	return t
}

// Add records one token.
func (t *Tokens) Add(tok string) {
	if tok == "" {
		return
	}
	t.set[tok] = struct{}{}
	if lower := strings.ToLower(tok); lower != tok {
		t.set[lower] = struct{}{}
	}
}

// AddText records every whole token in text.
func (t *Tokens) AddText(text []byte) {
	start := -1
	for i, c := range text {
		if isIdentChar(c) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			t.Add(string(text[start:i]))
			start = -1
		}
	}
	if start >= 0 {
		t.Add(string(text[start:]))
	}
}

// Has reports whether tok was seen.
func (t *Tokens) Has(tok string) bool {
	_, ok := t.set[tok]
	return ok
}

// Len returns the number of distinct tokens.
func (t *Tokens) Len() int {
	return len(t.set)
}

// AddHTML records tag names, class names and ids from an HTML document,
// plus every token of its text and attribute values.
func (t *Tokens) AddHTML(doc []byte) error {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return err
	}

	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type {
		case html.ElementNode:
			t.Add(n.Data)
			for _, attr := range n.Attr {
				switch attr.Key {
				case "class", "id":
					for _, name := range strings.Fields(attr.Val) {
						t.Add(name)
					}
				default:
					t.AddText([]byte(attr.Val))
				}
			}
		case html.TextNode:
			t.AddText([]byte(n.Data))
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			stack = append(stack, c)
		}
	}

	return nil
}

// AddContent walks paths (files or directories) and records tokens from
// HTML, script and template files. Stylesheets and binary files are
// skipped so a sheet never keeps its own rules alive.
func (t *Tokens) AddContent(paths []string) error {
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "node_modules" || (strings.HasPrefix(d.Name(), ".") && path != root) {
					return filepath.SkipDir
				}
				return nil
			}
			return t.addFile(path)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *Tokens) addFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	isHTML := ext == ".html" || ext == ".htm"
	if !isHTML && !textExts[ext] && module.KindOf(path) != module.KindScript {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isHTML {
		return t.AddHTML(data)
	}
	t.AddText(data)

	return nil
}
