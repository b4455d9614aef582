package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// FuzzLoadConfig feeds arbitrary YAML through Load. Load must never panic,
// and any configuration it accepts must be fully rooted.
func FuzzLoadConfig(f *testing.F) {
	f.Add(`entries:
  - name: main
    import: ./src/index.js
output:
  dir: build
  public_path: /static/`)
	f.Add(`entries:
  - name: main
    import: ./src/index.js
split:
  min_size: -1`)
	f.Add(`entries:
  - name: main
    import: ./src/index.js
split:
  cache_groups:
    - key: vendor
      test: "("`)
	f.Add(`entries: []`)
	f.Add(`malformed: yaml: content`)
	f.Add(``)
	f.Add(`transform:
  timeout: "not a duration"`)

	f.Fuzz(func(t *testing.T, content string) {
		viper.Reset()
		viper.SetConfigType("yaml")
		if err := viper.ReadConfig(strings.NewReader(content)); err != nil {
			return
		}

		cfg, err := Load()
		if err != nil {
			return
		}

		if !filepath.IsAbs(cfg.Root) || !filepath.IsAbs(cfg.Output.Dir) {
			t.Fatalf("accepted config with relative paths: root=%q out=%q", cfg.Root, cfg.Output.Dir)
		}
		if len(cfg.Entries) == 0 {
			t.Fatal("accepted config without entries")
		}
		if cfg.Split.MinChunks < 1 || cfg.Split.MaxAsyncRequests < 1 || cfg.Split.MaxInitialRequests < 1 {
			t.Fatalf("accepted invalid split limits: %+v", cfg.Split)
		}
	})
}

// FuzzValidateSplit checks that ValidateSplit rejects negative sizes and
// never panics on arbitrary cache group patterns.
func FuzzValidateSplit(f *testing.F) {
	f.Add("all", int64(20000), 1, "[\\\\/]node_modules[\\\\/]")
	f.Add("async", int64(-1), 1, "")
	f.Add("nope", int64(0), 0, "(")

	f.Fuzz(func(t *testing.T, chunks string, minSize int64, minChunks int, test string) {
		cfg := Default().Split
		cfg.Chunks = chunks
		cfg.MinSize = minSize
		cfg.MinChunks = minChunks
		cfg.CacheGroups = append(cfg.CacheGroups, CacheGroupConfig{Key: "fuzz", Test: test})

		err := ValidateSplit(&cfg, Default().Entries)
		if err == nil && (minSize < 0 || minChunks < 1) {
			t.Fatalf("accepted min_size=%d min_chunks=%d", minSize, minChunks)
		}
	})
}
