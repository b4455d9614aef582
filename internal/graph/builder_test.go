package graph

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/resolve"
	"github.com/conneroisu/splitpack/internal/transform"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func newTestBuilder(root string, workers int) *Builder {
	return NewBuilder(Options{
		Root: root,
		Resolver: resolve.New(resolve.Options{
			Modules:    []string{filepath.Join(root, "src"), filepath.Join(root, "node_modules")},
			Extensions: []string{"..."},
			Externals:  map[string]string{"jquery": "jQuery"},
		}),
		Pipeline:   transform.NewPipeline(transform.Options{}),
		Classifier: asset.NewClassifier(asset.Thresholds{Image: 100}, ""),
		PublicPath: "/static/",
		Workers:    workers,
	})
}

func names(g *module.Graph) []string {
	var out []string
	for _, m := range g.Ordered() {
		out = append(out, m.Name)
	}
	return out
}

func edgeTo(t *testing.T, g *module.Graph, from, to string) module.Edge {
	t.Helper()
	src := byName(t, g, from)
	dst := byName(t, g, to)
	for _, e := range src.Edges {
		if e.Target == dst.ID {
			return e
		}
	}
	t.Fatalf("no edge %s -> %s", from, to)
	return module.Edge{}
}

func byName(t *testing.T, g *module.Graph, name string) *module.Module {
	t.Helper()
	for _, m := range g.Modules() {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("module %s not found", name)
	return nil
}

func TestBuildEdgesAndKinds(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.js": `var a = require("./a");
require("./style.css");
var $ = require("jquery");
var data = require("./data.json");
button.onclick = function () { return import("./lazy"); };`,
		"src/a.js":      `module.exports = require("./b") + 1;`,
		"src/b.js":      `module.exports = 1;`,
		"src/lazy.js":   `module.exports = require("./a");`,
		"src/data.json": `{"k": true}`,
		"src/style.css": `@import "./base.css"; .logo { background: url(./logo.png); }`,
		"src/base.css":  `body { margin: 0; }`,
		"src/logo.png":  "tiny",
	})

	g, err := newTestBuilder(root, 4).Build(context.Background(), []Entry{{Name: "main", Import: "./src/index.js"}})
	require.NoError(t, err)

	assert.Equal(t, 9, g.Len())
	assert.Equal(t, module.ImportStatic, edgeTo(t, g, "src/index.js", "src/a.js").Kind)
	assert.Equal(t, module.ImportStylesheet, edgeTo(t, g, "src/index.js", "src/style.css").Kind)
	assert.Equal(t, module.ImportDynamic, edgeTo(t, g, "src/index.js", "src/lazy.js").Kind)
	assert.Equal(t, module.ImportStatic, edgeTo(t, g, "src/style.css", "src/base.css").Kind)
	assert.Equal(t, module.ImportStatic, edgeTo(t, g, "src/style.css", "src/logo.png").Kind)

	// a.js is imported twice but exists once.
	count := 0
	for _, m := range g.Modules() {
		if m.Name == "src/a.js" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	logo := byName(t, g, "src/logo.png")
	require.NotNil(t, logo.Asset)
	assert.True(t, logo.Asset.Inline)
	assert.Contains(t, string(logo.Code), "data:image/png;base64,")

	jq := byName(t, g, "external:jquery")
	assert.Equal(t, "jQuery", jq.External)
	assert.Equal(t, `module.exports = window["jQuery"];`+"\n", string(jq.Code))

	assert.Equal(t, "module.exports = {\"k\":true};\n", string(byName(t, g, "src/data.json").Code))

	entries := g.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "src/index.js", g.Get(entries[0].Root).Name)
	assert.Equal(t, 0, g.Get(entries[0].Root).Order)
}

func TestBuildCycle(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.js": `require("./x");`,
		"src/x.js":     `exports.y = require("./y");`,
		"src/y.js":     `exports.x = require("./x");`,
	})

	g, err := newTestBuilder(root, 2).Build(context.Background(), []Entry{{Name: "main", Import: "./src/index.js"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/index.js", "src/x.js", "src/y.js"}, names(g))
	edgeTo(t, g, "src/x.js", "src/y.js")
	edgeTo(t, g, "src/y.js", "src/x.js")
}

func TestBuildDeterministicAcrossWorkerCounts(t *testing.T) {
	files := map[string]string{
		"src/one.js":       `require("./shared"); require("./a1"); require("./a2");`,
		"src/two.js":       `require("./a2"); require("./shared"); import("./late");`,
		"src/shared.js":    `require("./deep/leaf");`,
		"src/a1.js":        `require("./a2");`,
		"src/a2.js":        `require("./a1");`,
		"src/late.js":      `require("./shared");`,
		"src/deep/leaf.js": `module.exports = 0;`,
	}
	root := writeTree(t, files)
	entries := []Entry{{Name: "two", Import: "./src/two.js"}, {Name: "one", Import: "./src/one.js"}}

	var want []string
	for _, workers := range []int{1, 2, 8} {
		for run := 0; run < 3; run++ {
			g, err := newTestBuilder(root, workers).Build(context.Background(), entries)
			require.NoError(t, err)
			got := names(g)
			if want == nil {
				want = got
				continue
			}
			assert.Equal(t, want, got, "workers=%d run=%d", workers, run)
		}
	}
	assert.Equal(t, "src/one.js", want[0], "entries are walked in name order")
}

func TestBuildUnresolvableCarriesChain(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.js": `require("./a");`,
		"src/a.js":     `require("./missing");`,
	})

	_, err := newTestBuilder(root, 2).Build(context.Background(), []Entry{{Name: "main", Import: "./src/index.js"}})
	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))

	var be *errors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []string{"entry:main", "src/index.js", "src/a.js"}, be.Chain)
	assert.True(t, strings.Contains(err.Error(), "./missing"))
}

func TestBuildUnresolvableEntry(t *testing.T) {
	root := writeTree(t, map[string]string{"src/index.js": ""})

	_, err := newTestBuilder(root, 1).Build(context.Background(), []Entry{{Name: "main", Import: "./src/nope.js"}})
	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))
}

func TestBuildNoEntries(t *testing.T) {
	_, err := newTestBuilder(t.TempDir(), 1).Build(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildCancelled(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.js": `require("./a");`,
		"src/a.js":     ``,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestBuilder(root, 1).Build(ctx, []Entry{{Name: "main", Import: "./src/index.js"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStylesheetSpecifier(t *testing.T) {
	assert.Equal(t, "./img/a.png", stylesheetSpecifier("img/a.png"))
	assert.Equal(t, "../a.png", stylesheetSpecifier("../a.png"))
	assert.Equal(t, "pkg/a.css", stylesheetSpecifier("~pkg/a.css"))
	assert.Equal(t, "~/a.css", stylesheetSpecifier("~/a.css"))
	assert.Equal(t, "@/a.css", stylesheetSpecifier("@/a.css"))
}

func TestBuildAssetQuery(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.js": `require("./font.css");`,
		"src/font.css": `@font-face {
  src: url(./icons.eot?#iefix) format("embedded-opentype"),
    url(./icons.woff2?v=4.7.0) format("woff2");
}`,
		"src/icons.eot":   "eot-bytes",
		"src/icons.woff2": "woff2-bytes",
	})

	g, err := newTestBuilder(root, 2).Build(context.Background(), []Entry{{Name: "main", Import: "./src/index.js"}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		ext   string
		query string
	}{
		{"src/icons.eot?#iefix", ".eot", "?#iefix"},
		{"src/icons.woff2?v=4.7.0", ".woff2", "?v=4.7.0"},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			m := byName(t, g, tt.name)
			require.NotNil(t, m.Asset)
			assert.Equal(t, module.KindAsset, m.Kind)
			assert.Equal(t, asset.CategoryFont, m.Asset.Category)
			assert.False(t, m.Asset.Inline)
			assert.True(t, strings.HasSuffix(m.Asset.Filename, tt.ext), m.Asset.Filename)
			assert.NotContains(t, m.Asset.Filename, "?")
			assert.Equal(t, "module.exports = \"/static/"+m.Asset.Filename+tt.query+"\";\n", string(m.Code))
		})
	}
}

func TestBuildKeepsEverySpecifierSpelling(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/index.js": `var a = require("./a"); var b = require("./a.js");`,
		"src/a.js":     `module.exports = {};`,
		"src/a.css":    `.a { background: url(a.png); } .b { background: url(./a.png); }`,
		"src/a.png":    "png",
		"src/style.js": `require("./a.css");`,
	})

	g, err := newTestBuilder(root, 2).Build(context.Background(), []Entry{
		{Name: "main", Import: "./src/index.js"},
		{Name: "style", Import: "./src/style.js"},
	})
	require.NoError(t, err)

	specs := func(from string) []string {
		var out []string
		for _, e := range byName(t, g, from).Edges {
			out = append(out, e.Specifier)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"./a", "./a.js"}, specs("src/index.js"))

	assert.ElementsMatch(t, []string{"a.png", "./a.png"}, specs("src/a.css"))
	for _, e := range byName(t, g, "src/a.css").Edges {
		assert.Equal(t, byName(t, g, "src/a.png").ID, e.Target)
	}
}
