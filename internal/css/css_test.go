package css

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
)

func tokensOf(text string) *Tokens {
	t := NewTokens()
	t.AddText([]byte(text))
	return t
}

func TestTokens(t *testing.T) {
	tok := tokensOf(`el.className = "btn btn-primary"; var nav_bar = 1;`)

	for _, want := range []string{"btn", "btn-primary", "className", "classname", "nav_bar", "html", "body"} {
		assert.True(t, tok.Has(want), want)
	}
	assert.False(t, tok.Has("primary"), "tokens are whole runs, not affixes")
}

func TestSelectorTokens(t *testing.T) {
	tests := []struct {
		sel    string
		tokens []string
		ok     bool
	}{
		{".btn", []string{"btn"}, true},
		{"ul.nav > li a:hover", []string{"ul", "nav", "li", "a"}, true},
		{"#app .card::before", []string{"app", "card"}, true},
		{"input[type=\"text\"]", []string{"input"}, true},
		{".a:not(.b)", []string{"a"}, true},
		{"*", nil, true},
		{":root", nil, true},
		{".md\\:flex", []string{"md\\:flex"}, false},
		{"DIV.Box", []string{"div", "Box"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			tokens, ok := selectorTokens(tt.sel)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.tokens, tokens)
			}
		})
	}
}

func TestPurge(t *testing.T) {
	css := `/* header */
.btn { color: red; }
.btn-primary { color: blue; }
.unused, .btn.active { margin: 0; }
#app { display: block; }
body { margin: 0 }
* { box-sizing: border-box; }
:root { --gap: 4px; }
@font-face { font-family: "Inter"; src: url(inter.woff2); }
@keyframes spin { from { transform: rotate(0) } to { transform: rotate(360deg) } }
@media (max-width: 600px) {
  .btn { padding: 0; }
  .gone { padding: 1px; }
}
@media print {
  .gone { display: none; }
}
.content::after { content: "}"; }
.md\:flex { display: flex; }
`
	tokens := tokensOf(`document.querySelector("#app").classList.add("btn", "active");`)
	res := Purge([]byte(css), tokens, nil)
	out := string(res.CSS)

	assert.Contains(t, out, ".btn {")
	assert.NotContains(t, out, ".btn-primary")
	assert.NotContains(t, out, ".unused")
	assert.Contains(t, out, ".btn.active {")
	assert.Contains(t, out, "#app {")
	assert.Contains(t, out, "body {")
	assert.Contains(t, out, "* {")
	assert.Contains(t, out, ":root {")
	assert.Contains(t, out, "@font-face")
	assert.Contains(t, out, "@keyframes spin")
	assert.Contains(t, out, "@media (max-width: 600px)")
	assert.NotContains(t, out, ".gone")
	assert.NotContains(t, out, "@media print")
	assert.NotContains(t, out, ".content", "a brace inside a string does not end the rule early")
	assert.Contains(t, out, `.md\:flex`)
	assert.NotContains(t, out, "header")

	assert.Equal(t, 5, res.SelectorsRemoved)
	assert.Equal(t, 5, res.RulesRemoved)
}

func TestPurgeSafelist(t *testing.T) {
	css := `.modal-open { overflow: hidden; } .toast { top: 0; }`
	safelist := []*regexp.Regexp{regexp.MustCompile(`^\.modal-`), regexp.MustCompile(`^\.never`)}

	res := Purge([]byte(css), NewTokens(), safelist)
	assert.Contains(t, string(res.CSS), ".modal-open")
	assert.NotContains(t, string(res.CSS), ".toast")
	assert.Equal(t, []int{1, 0}, res.SafelistHits)
}

func TestAddHTML(t *testing.T) {
	tok := NewTokens()
	require.NoError(t, tok.AddHTML([]byte(`<!doctype html><html><body>
<nav id="top" class="navbar  navbar-dark"><a href="/x" data-role="menu-link">Home</a></nav>
</body></html>`)))

	for _, want := range []string{"nav", "top", "navbar", "navbar-dark", "a", "menu-link", "Home"} {
		assert.True(t, tok.Has(want), want)
	}
}

func TestAddContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(`<div class="hero"></div>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.vue"), []byte(`<template><p class="lede"/></template>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte(`.only-in-css {}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x", "i.js"), []byte(`vendorish`), 0o644))

	tok := NewTokens()
	require.NoError(t, tok.AddContent([]string{dir}))

	assert.True(t, tok.Has("hero"))
	assert.True(t, tok.Has("lede"))
	assert.False(t, tok.Has("only-in-css"))
	assert.False(t, tok.Has("vendorish"))
}

// sheetGraph builds: main.js -> (stylesheet) a.css -> @import base.css,
// a.css -> url(logo.png); main.js -> dynamic lazy.js -> (stylesheet) lazy.css, a.css.
func sheetGraph(t *testing.T) (*module.Graph, map[string]module.ID) {
	t.Helper()
	g := module.NewGraph()
	ids := map[string]module.ID{}
	add := func(name string, kind module.Kind, code string) *module.Module {
		m, _ := g.Add("/p/"+name, "/p/"+name, name, kind)
		m.Code = []byte(code)
		m.Source = m.Code
		ids[name] = m.ID
		return m
	}

	mainJS := add("main.js", module.KindScript, `require("./a.css"); el.className = "title"; import("./lazy");`)
	a := add("a.css", module.KindStylesheet, `@import "./base.css";
.title { background: url(./logo.png); }
.hidden { display: none; }`)
	base := add("base.css", module.KindStylesheet, `body { margin: 0; }`)
	logo := add("logo.png", module.KindAsset, "")
	logo.Asset = &asset.Decision{Filename: "logo.0123abcd.png"}
	lazy := add("lazy.js", module.KindScript, `require("./lazy.css"); require("./a.css"); el.className = "panel";`)
	lazyCSS := add("lazy.css", module.KindStylesheet, `.panel { color: red; }`)

	mainJS.AddEdge(module.Edge{Specifier: "./a.css", Target: a.ID, Kind: module.ImportStylesheet})
	mainJS.AddEdge(module.Edge{Specifier: "./lazy", Target: lazy.ID, Kind: module.ImportDynamic})
	a.AddEdge(module.Edge{Specifier: "./base.css", Target: base.ID, Kind: module.ImportStatic})
	a.AddEdge(module.Edge{Specifier: "./logo.png", Target: logo.ID, Kind: module.ImportStatic})
	lazy.AddEdge(module.Edge{Specifier: "./lazy.css", Target: lazyCSS.ID, Kind: module.ImportStylesheet})
	lazy.AddEdge(module.Edge{Specifier: "./a.css", Target: a.ID, Kind: module.ImportStylesheet})

	g.AddEntry("main", mainJS.ID)
	g.Canonicalize()

	return g, ids
}

func TestExtractAndPurge(t *testing.T) {
	g, ids := sheetGraph(t)
	roots := []Root{
		{Name: "main", Module: ids["main.js"]},
		{Name: "lazy", Module: ids["lazy.js"], Parents: []string{"main"}},
	}

	bundles, warnings, err := ExtractAndPurge(g, roots, Options{
		PublicPath: "/static/",
		Purge:      true,
		Safelist:   []*regexp.Regexp{regexp.MustCompile(`nothing-matches`)},
	})
	require.NoError(t, err)

	require.Contains(t, bundles, "main")
	mainCSS := string(bundles["main"].CSS)
	assert.Equal(t, []module.ID{ids["base.css"], ids["a.css"]}, bundles["main"].Sheets)
	assert.Less(t, strings.Index(mainCSS, "body"), strings.Index(mainCSS, ".title"), "imported sheet precedes its importer")
	assert.NotContains(t, mainCSS, "@import")
	assert.Contains(t, mainCSS, "url(/static/logo.0123abcd.png)")
	assert.NotContains(t, mainCSS, ".hidden")

	require.Contains(t, bundles, "lazy")
	assert.Equal(t, []module.ID{ids["lazy.css"]}, bundles["lazy"].Sheets, "sheets loaded by the parent are not repeated")
	assert.Contains(t, string(bundles["lazy"].CSS), ".panel")

	require.Len(t, warnings, 1)
	assert.Equal(t, errors.ErrCodeSafelistUnmatched, warnings[0].Code)
}

func TestExtractWithoutPurge(t *testing.T) {
	g, ids := sheetGraph(t)
	bundles, warnings, err := ExtractAndPurge(g, []Root{{Name: "main", Module: ids["main.js"]}}, Options{
		Safelist: []*regexp.Regexp{regexp.MustCompile(`x`)},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Contains(t, string(bundles["main"].CSS), ".hidden")
}

func TestExtractUnknownRoot(t *testing.T) {
	g, _ := sheetGraph(t)
	_, _, err := ExtractAndPurge(g, []Root{{Name: "bad", Module: 99}}, Options{})
	assert.Error(t, err)
}

func TestConditionWrappers(t *testing.T) {
	tests := []struct {
		cond     string
		expected []string
	}{
		{"", nil},
		{"print", []string{"@media print"}},
		{"screen and (min-width: 40em)", []string{"@media screen and (min-width: 40em)"}},
		{"supports(display: grid)", []string{"@supports (display: grid)"}},
		{"supports(not (display: grid)) print", []string{"@supports not (display: grid)", "@media print"}},
		{"layer(base) supports(display: grid) screen", []string{"@layer base", "@supports (display: grid)", "@media screen"}},
		{"layer", []string{"@layer"}},
		{"layer print", []string{"@layer", "@media print"}},
	}

	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			assert.Equal(t, tt.expected, conditionWrappers(tt.cond))
		})
	}
}

// conditionalGraph is main.js -> a.css, where a.css imports print.css for
// print and grid.css under a supports() test.
func conditionalGraph(t *testing.T, requirePrint bool) (*module.Graph, map[string]module.ID) {
	t.Helper()
	g := module.NewGraph()
	ids := map[string]module.ID{}
	add := func(name string, kind module.Kind, code string) *module.Module {
		m, _ := g.Add("/p/"+name, "/p/"+name, name, kind)
		m.Code = []byte(code)
		m.Source = m.Code
		ids[name] = m.ID
		return m
	}

	mainJS := add("main.js", module.KindScript, `require("./a.css");`)
	a := add("a.css", module.KindStylesheet, `@import "./print.css" print;
@import url(./grid.css) supports(display: grid);
.a { color: red; }`)
	printCSS := add("print.css", module.KindStylesheet, `.p { color: black; }`)
	grid := add("grid.css", module.KindStylesheet, `.g { display: grid; }`)

	mainJS.AddEdge(module.Edge{Specifier: "./a.css", Target: a.ID, Kind: module.ImportStylesheet})
	if requirePrint {
		mainJS.AddEdge(module.Edge{Specifier: "./print.css", Target: printCSS.ID, Kind: module.ImportStylesheet})
	}
	a.AddEdge(module.Edge{Specifier: "./print.css", Target: printCSS.ID, Kind: module.ImportStatic, Condition: "print"})
	a.AddEdge(module.Edge{Specifier: "./grid.css", Target: grid.ID, Kind: module.ImportStatic, Condition: "supports(display: grid)"})

	g.AddEntry("main", mainJS.ID)
	g.Canonicalize()

	return g, ids
}

func TestExtractConditionalImport(t *testing.T) {
	t.Run("inlined sheet keeps its condition", func(t *testing.T) {
		g, ids := conditionalGraph(t, false)
		bundles, _, err := ExtractAndPurge(g, []Root{{Name: "main", Module: ids["main.js"]}}, Options{})
		require.NoError(t, err)

		css := string(bundles["main"].CSS)
		assert.NotContains(t, css, "@import")
		assert.Contains(t, css, "@media print {\n.p { color: black; }\n}")
		assert.Contains(t, css, "@supports (display: grid) {\n.g { display: grid; }\n}")
		assert.NotContains(t, css, "@media print {\n.a")
	})

	t.Run("unconditional import wins", func(t *testing.T) {
		g, ids := conditionalGraph(t, true)
		bundles, _, err := ExtractAndPurge(g, []Root{{Name: "main", Module: ids["main.js"]}}, Options{})
		require.NoError(t, err)

		css := string(bundles["main"].CSS)
		assert.NotContains(t, css, "@media print")
		assert.Contains(t, css, ".p { color: black; }")
	})

	t.Run("purge reaches into the wrapper", func(t *testing.T) {
		g, ids := conditionalGraph(t, false)
		bundles, _, err := ExtractAndPurge(g, []Root{{Name: "main", Module: ids["main.js"]}}, Options{
			Purge:   true,
			Content: tokensOf("a g"),
		})
		require.NoError(t, err)

		css := string(bundles["main"].CSS)
		assert.NotContains(t, css, ".p")
		assert.Contains(t, css, ".g")
	})
}

func TestRewriteSheetEverySpelling(t *testing.T) {
	g := module.NewGraph()
	sheet, _ := g.Add("/p/a.css", "/p/a.css", "a.css", module.KindStylesheet)
	sheet.Code = []byte(`.x { background: url(a.png); } .y { background: url(./a.png); }`)
	logo, _ := g.Add("/p/a.png", "/p/a.png", "a.png", module.KindAsset)
	logo.Asset = &asset.Decision{Filename: "a0123abcd.png"}

	sheet.AddEdge(module.Edge{Specifier: "a.png", Target: logo.ID})
	sheet.AddEdge(module.Edge{Specifier: "./a.png", Target: logo.ID})

	out := string(rewriteSheet(g, sheet, "/static/"))
	assert.Equal(t, `.x { background: url(/static/a0123abcd.png); } .y { background: url(/static/a0123abcd.png); }`, out)
}
