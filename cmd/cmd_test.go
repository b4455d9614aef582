package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/errors"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile = ""
		initForce = false
		initEntries = nil
		buildMetricsFile = ""
		buildCleanCache = false
		watchExtensions = nil
		configFormat = "yaml"
		versionFormat = "text"
	})

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeProject(t *testing.T, extra string) (root, configPath string) {
	t.Helper()
	root = t.TempDir()
	files := map[string]string{
		"src/index.js":  "require(\"./style.css\");\nmodule.exports = \"btn\";\n",
		"src/style.css": ".btn { color: red; }\n",
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	configPath = filepath.Join(root, defaultConfigName)
	body := "root: " + root + "\n" +
		"entries:\n  - name: main\n    import: ./src/index.js\n" +
		extra
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	return root, configPath
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()

	out, err := executeCommand(t, "init", dir, "--entry", "app=./src/app.ts")
	require.NoError(t, err)
	assert.Contains(t, out, defaultConfigName)

	data, err := os.ReadFile(filepath.Join(dir, defaultConfigName))
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, []config.EntryConfig{{Name: "app", Import: "./src/app.ts"}}, cfg.Entries)
	assert.Equal(t, config.Default().Split.CacheGroups, cfg.Split.CacheGroups)

	_, err = executeCommand(t, "init", dir)
	assert.Error(t, err, "existing file without --force")

	_, err = executeCommand(t, "init", dir, "--force")
	assert.NoError(t, err)
}

func TestInitRejectsMalformedEntry(t *testing.T) {
	_, err := executeCommand(t, "init", t.TempDir(), "--entry", "noequals")
	assert.Error(t, err)
}

func TestBuildCommand(t *testing.T) {
	root, configPath := writeProject(t, "output:\n  minify: false\n")
	metricsFile := filepath.Join(t.TempDir(), "build.prom")

	out, err := executeCommand(t, "--config", configPath, "build", "--metrics-file", metricsFile)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Built")
	assert.Contains(t, out, "main")

	assert.FileExists(t, filepath.Join(root, "dist", "manifest.json"))

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `splitpack_builds_total{result="success"} 1`)
}

func TestBuildCommandFailure(t *testing.T) {
	_, configPath := writeProject(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(configPath), "src", "index.js"),
		[]byte(`require("./gone");`), 0o644))

	out, err := executeCommand(t, "--config", configPath, "build")
	require.Error(t, err)
	assert.Contains(t, out, "✗ Build failed: unresolved import")
}

func TestBuildCommandCleanCache(t *testing.T) {
	root, configPath := writeProject(t, "output:\n  minify: false\n")

	_, err := executeCommand(t, "--config", configPath, "build")
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(root, ".splitpack", "cache", "entries"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	stale := filepath.Join(root, ".splitpack", "cache", "entries", "stale")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	_, err = executeCommand(t, "--config", configPath, "build", "--clean-cache")
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(root, "dist", "manifest.json"))
}

func TestFailureHeadline(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"resolution", fmt.Errorf("%w (imported via entry:main)", errors.NewResolutionError("./gone", "src/index.js", nil)), "✗ Build failed: unresolved import"},
		{"transform", errors.NewTransformError("src/a.ts", "esbuild", fmt.Errorf("syntax")), "✗ Build failed: transform error"},
		{"constraints", errors.NewConstraintViolation("min_size", "must not exceed max_size"), "✗ Build failed: invalid chunk constraints"},
		{"other", errors.NewInternalError("boom", nil), "✗ Build failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureHeadline(tt.err))
		})
	}
}

func TestNormalizeExts(t *testing.T) {
	assert.Equal(t, []string{".ts", ".css"}, normalizeExts([]string{"ts", " .css", ""}))
	assert.Empty(t, normalizeExts(nil))
}

func TestConfigShowMasksCredentials(t *testing.T) {
	_, configPath := writeProject(t, "publish:\n  bucket: site\n  access_key: AKIAEXAMPLE\n  secret_key: hunter2\n")

	out, err := executeCommand(t, "--config", configPath, "config", "show", "--format", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "AKIAEXAMPLE")

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "****", cfg.Publish.SecretKey)
	assert.Equal(t, "site", cfg.Publish.Bucket)
}

func TestConfigValidateReportsBadCacheGroup(t *testing.T) {
	_, configPath := writeProject(t, "split:\n  cache_groups:\n    - key: broken\n      test: \"(\"\n")

	_, err := executeCommand(t, "--config", configPath, "config", "validate")
	assert.Error(t, err)
}

func TestVersionJSON(t *testing.T) {
	out, err := executeCommand(t, "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestCutEntry(t *testing.T) {
	tests := []struct {
		in         string
		name, path string
		ok         bool
	}{
		{"main=./src/index.js", "main", "./src/index.js", true},
		{"a=b=c", "a", "b=c", true},
		{"=./x", "", "./x", false},
		{"main=", "main", "", false},
		{"main", "", "", false},
	}
	for _, tt := range tests {
		name, path, ok := cutEntry(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.path, path)
		}
	}
}
