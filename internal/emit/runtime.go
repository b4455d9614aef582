package emit

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/conneroisu/splitpack/internal/module"
	"github.com/conneroisu/splitpack/internal/split"
	"github.com/conneroisu/splitpack/internal/transform"
)

// runtime is the module registry prepended to every entry chunk. Chunks
// loaded before it queue their definitions on __splitpack_q__.
//
// Module factories receive (module, exports, require, __import). require
// maps a specifier through the module's static table; __import maps it
// through the dynamic table to a target module and the chunks to fetch
// first, then delegates to __splitpack__.i.
const runtime = `(function (g) {
  if (g.__splitpack__) return;
  var defs = {}, cache = {}, files = {}, loading = {}, base = "";
  function define(name, deps, dyn, factory) {
    if (!defs[name]) defs[name] = { s: deps, y: dyn, f: factory };
  }
  function load(name) {
    if (!name) return {};
    if (cache[name]) return cache[name].exports;
    var def = defs[name];
    if (!def) throw new Error("splitpack: module " + name + " is not loaded");
    var module = cache[name] = { exports: {} };
    def.f.call(module.exports, module, module.exports, function (spec) {
      if (!Object.prototype.hasOwnProperty.call(def.s, spec)) {
        throw new Error("splitpack: cannot find " + spec + " from " + name);
      }
      return load(def.s[spec]);
    }, function (spec) {
      var target = def.y[spec];
      if (!target) return Promise.reject(new Error("splitpack: cannot import " + spec + " from " + name));
      return g.__splitpack__.i(target.m, target.c);
    });
    return module.exports;
  }
  function fetchFile(tag, file) {
    return new Promise(function (resolve, reject) {
      var el = document.createElement(tag);
      if (tag === "link") {
        el.rel = "stylesheet";
        el.href = base + file;
      } else {
        el.src = base + file;
      }
      el.onload = function () { resolve(); };
      el.onerror = function () { reject(new Error("splitpack: failed to load " + file)); };
      document.head.appendChild(el);
    });
  }
  function fetchChunk(name) {
    if (!loading[name]) {
      var f = files[name] || {}, parts = [];
      if (f.css) parts.push(fetchFile("link", f.css));
      if (f.js) parts.push(fetchFile("script", f.js));
      loading[name] = Promise.all(parts).catch(function (err) {
        delete loading[name];
        throw err;
      });
    }
    return loading[name];
  }
  function run(fn) { fn(define); }
  var queue = g.__splitpack_q__ = g.__splitpack_q__ || [];
  for (var i = 0; i < queue.length; i++) run(queue[i]);
  queue.length = 0;
  queue.push = run;
  g.__splitpack__ = {
    d: define,
    r: load,
    i: function (target, chunks) {
      return Promise.all(chunks.map(fetchChunk)).then(function () { return load(target); });
    },
    f: function (map, publicPath, initial) {
      for (var k in map) files[k] = map[k];
      base = publicPath;
      for (var j = 0; j < initial.length; j++) loading[initial[j]] = Promise.resolve();
    },
    s: load
  };
})(typeof self !== "undefined" ? self : this);
`

const queuePrefix = "(self.__splitpack_q__ = self.__splitpack_q__ || []).push(function (d) {\n"

// dynamicTarget is the runtime's view of one dynamic import.
type dynamicTarget struct {
	Module string   `json:"m"`
	Chunks []string `json:"c"`
}

// fileRef names the files of one chunk for the runtime loader.
type fileRef struct {
	JS  string `json:"js,omitempty"`
	CSS string `json:"css,omitempty"`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// requireName is the registry key a static import resolves to. Stylesheets
// are not registered; requiring one yields an empty object.
func requireName(g *module.Graph, id module.ID) string {
	m := g.Get(id)
	if m.Kind == module.KindStylesheet {
		return ""
	}
	return m.Name
}

// writeTables writes the static and dynamic specifier tables for m, keyed
// in edge order.
func writeTables(buf *bytes.Buffer, g *module.Graph, cg *split.ChunkGraph, m *module.Module) {
	buf.WriteByte('{')
	n := 0
	for _, e := range m.Edges {
		if e.Kind == module.ImportDynamic {
			continue
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quote(e.Specifier))
		buf.WriteByte(':')
		buf.WriteString(quote(requireName(g, e.Target)))
		n++
	}
	buf.WriteString("}, {")

	n = 0
	for _, e := range m.Edges {
		if e.Kind != module.ImportDynamic {
			continue
		}
		target := dynamicTarget{Module: requireName(g, e.Target), Chunks: []string{}}
		if name, ok := cg.AsyncChunk(e.Target); ok && name != "" {
			target.Chunks = cg.LoadOrder(name)
		}
		b, _ := json.Marshal(target)
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quote(e.Specifier))
		buf.WriteByte(':')
		buf.Write(b)
		n++
	}
	buf.WriteByte('}')
}

// rewriteDynamic replaces the import keyword of every dynamic import of a
// known specifier with the factory's __import parameter.
func rewriteDynamic(m *module.Module) []byte {
	if m.Leaf || m.Kind != module.KindScript {
		return m.Code
	}
	dynamic := make(map[string]bool)
	for _, e := range m.Edges {
		if e.Kind == module.ImportDynamic {
			dynamic[e.Specifier] = true
		}
	}
	if len(dynamic) == 0 {
		return m.Code
	}

	var out bytes.Buffer
	last := 0
	for _, imp := range transform.ScanScript(m.Code) {
		if !imp.Dynamic || !dynamic[imp.Specifier] {
			continue
		}
		out.Write(m.Code[last:imp.Start])
		out.WriteString("__import")
		last = imp.End
	}
	out.Write(m.Code[last:])

	return out.Bytes()
}

// writeModule writes one define call.
func writeModule(buf *bytes.Buffer, define string, g *module.Graph, cg *split.ChunkGraph, m *module.Module) {
	buf.WriteString(define)
	buf.WriteByte('(')
	buf.WriteString(quote(m.Name))
	buf.WriteString(", ")
	writeTables(buf, g, cg, m)
	buf.WriteString(", function (module, exports, require, __import) {\n")
	buf.Write(rewriteDynamic(m))
	buf.WriteString("\n});\n")
}

// renderChunk produces the unminified code of a non-entry chunk.
func renderChunk(g *module.Graph, cg *split.ChunkGraph, c *split.Chunk) []byte {
	var buf bytes.Buffer
	buf.WriteString(queuePrefix)
	for _, id := range c.Modules {
		writeModule(&buf, "d", g, cg, g.Get(id))
	}
	buf.WriteString("});\n")

	return buf.Bytes()
}

// renderEntry produces the unminified code of an entry chunk: the runtime,
// the file table for chunks loaded on demand, the chunk's modules and the
// start call.
func renderEntry(g *module.Graph, cg *split.ChunkGraph, c *split.Chunk, files map[string]fileRef, publicPath string) []byte {
	var buf bytes.Buffer
	buf.WriteString(runtime)

	table, _ := json.Marshal(files)
	initial, _ := json.Marshal(cg.LoadOrder(c.Name))
	buf.WriteString("__splitpack__.f(")
	buf.Write(table)
	buf.WriteString(", ")
	buf.WriteString(quote(publicPath))
	buf.WriteString(", ")
	buf.Write(initial)
	buf.WriteString(");\n")

	for _, id := range c.Modules {
		writeModule(&buf, "__splitpack__.d", g, cg, g.Get(id))
	}

	if root := g.Get(c.Root); root.Kind == module.KindScript {
		buf.WriteString("__splitpack__.s(")
		buf.WriteString(quote(root.Name))
		buf.WriteString(");\n")
	}

	return buf.Bytes()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
