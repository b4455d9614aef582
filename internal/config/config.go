// Package config provides configuration management for splitpack using Viper
// for loading from YAML files, environment variables and command-line flags.
//
// Values are read from .splitpack.yml (or the file named by --config /
// SPLITPACK_CONFIG_FILE) with SPLITPACK_<SECTION>_<KEY> environment overrides.
// Defaults follow the production bundling policy the tool was built to
// reproduce: 50 KiB image and 10 KiB font inline limits, 8-character content
// hashes and the async-first split constraints with a vendors and a default
// cache group.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete, validated configuration for one build.
type Config struct {
	Root      string           `mapstructure:"root" yaml:"root"`
	Entries   []EntryConfig    `mapstructure:"entries" yaml:"entries"`
	Output    OutputConfig     `mapstructure:"output" yaml:"output"`
	Resolve   ResolveConfig    `mapstructure:"resolve" yaml:"resolve"`
	Transform TransformConfig  `mapstructure:"transform" yaml:"transform"`
	Assets    AssetsConfig     `mapstructure:"assets" yaml:"assets"`
	Split     SplitConfig      `mapstructure:"split" yaml:"split"`
	Purge     PurgeConfig      `mapstructure:"purge" yaml:"purge"`
	Externals []ExternalConfig `mapstructure:"externals" yaml:"externals"`
	Publish   PublishConfig    `mapstructure:"publish" yaml:"publish"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
}

// EntryConfig names one entry point. Entries are a list rather than a map
// because viper lowercases map keys and entry names are case-sensitive.
type EntryConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Import string `mapstructure:"import" yaml:"import"`
}

type OutputConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	PublicPath  string `mapstructure:"public_path" yaml:"public_path"`
	JSFilename  string `mapstructure:"js_filename" yaml:"js_filename"`
	CSSFilename string `mapstructure:"css_filename" yaml:"css_filename"`
	HashLength  int    `mapstructure:"hash_length" yaml:"hash_length"`
	Minify      bool   `mapstructure:"minify" yaml:"minify"`
	Manifest    string `mapstructure:"manifest" yaml:"manifest"`
	Stats       bool   `mapstructure:"stats" yaml:"stats"`
}

type ResolveConfig struct {
	Modules    []string      `mapstructure:"modules" yaml:"modules"`
	Extensions []string      `mapstructure:"extensions" yaml:"extensions"`
	Alias      []AliasConfig `mapstructure:"alias" yaml:"alias"`
}

type AliasConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

type TransformConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Cache         bool          `mapstructure:"cache" yaml:"cache"`
	CacheDir      string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	MemoryEntries int           `mapstructure:"memory_entries" yaml:"memory_entries"`
	Exclude       []string      `mapstructure:"exclude" yaml:"exclude"`
	NoParse       []string      `mapstructure:"no_parse" yaml:"no_parse"`
	Script        []StageConfig `mapstructure:"script" yaml:"script"`
	JSON          []StageConfig `mapstructure:"json" yaml:"json"`
	Stylesheet    []StageConfig `mapstructure:"stylesheet" yaml:"stylesheet"`
}

// StageConfig describes one transform stage in a chain.
type StageConfig struct {
	Type    string   `mapstructure:"type" yaml:"type"`
	Target  string   `mapstructure:"target" yaml:"target,omitempty"`
	Command string   `mapstructure:"command" yaml:"command,omitempty"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty"`
}

type AssetsConfig struct {
	ImageThreshold int64  `mapstructure:"image_threshold" yaml:"image_threshold"`
	FontThreshold  int64  `mapstructure:"font_threshold" yaml:"font_threshold"`
	OtherThreshold int64  `mapstructure:"other_threshold" yaml:"other_threshold"`
	Filename       string `mapstructure:"filename" yaml:"filename"`
}

type SplitConfig struct {
	Chunks               string             `mapstructure:"chunks" yaml:"chunks"`
	MinSize              int64              `mapstructure:"min_size" yaml:"min_size"`
	MinRemainingSize     int64              `mapstructure:"min_remaining_size" yaml:"min_remaining_size"`
	MinChunks            int                `mapstructure:"min_chunks" yaml:"min_chunks"`
	MaxAsyncRequests     int                `mapstructure:"max_async_requests" yaml:"max_async_requests"`
	MaxInitialRequests   int                `mapstructure:"max_initial_requests" yaml:"max_initial_requests"`
	EnforceSizeThreshold int64              `mapstructure:"enforce_size_threshold" yaml:"enforce_size_threshold"`
	CacheGroups          []CacheGroupConfig `mapstructure:"cache_groups" yaml:"cache_groups"`
}

// CacheGroupConfig overrides the split constraints for modules matching Test.
// Zero MinChunks and a nil MinSize inherit the top-level values.
type CacheGroupConfig struct {
	Key                string `mapstructure:"key" yaml:"key"`
	Test               string `mapstructure:"test" yaml:"test,omitempty"`
	Priority           int    `mapstructure:"priority" yaml:"priority"`
	MinChunks          int    `mapstructure:"min_chunks" yaml:"min_chunks,omitempty"`
	MinSize            *int64 `mapstructure:"min_size" yaml:"min_size,omitempty"`
	Chunks             string `mapstructure:"chunks" yaml:"chunks,omitempty"`
	Name               string `mapstructure:"name" yaml:"name,omitempty"`
	ReuseExistingChunk bool   `mapstructure:"reuse_existing_chunk" yaml:"reuse_existing_chunk"`
	Enforce            bool   `mapstructure:"enforce" yaml:"enforce,omitempty"`
}

type PurgeConfig struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Content  []string `mapstructure:"content" yaml:"content"`
	Safelist []string `mapstructure:"safelist" yaml:"safelist"`
}

// ExternalConfig maps an import specifier to a global provided by the page.
type ExternalConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Global string `mapstructure:"global" yaml:"global"`
}

type PublishConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default values.
const (
	DefaultHashLength       = 8
	DefaultImageThreshold   = 50 * 1024
	DefaultFontThreshold    = 10 * 1024
	DefaultTimeout          = 30 * time.Second
	DefaultMemoryEntries    = 1024
	DefaultVendorsGroup     = "defaultVendors"
	DefaultGroup            = "default"
	DefaultVendorsTest      = `[\\/]node_modules[\\/]`
	DefaultManifestFilename = "manifest.json"
)

// Load reads the global viper instance into a Config, applies defaults,
// resolves paths against the project root and validates the result.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config, viper.IsSet)

	if err := Finalize(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Finalize resolves paths against Root and validates config. Load calls it;
// callers that build a Config by hand must call it before use.
func Finalize(config *Config) error {
	if err := resolvePaths(config); err != nil {
		return err
	}
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Default returns the configuration used when no file sets anything, with
// a single "main" entry at ./src/index.js. Paths are left relative.
func Default() *Config {
	config := &Config{
		Entries: []EntryConfig{{Name: "main", Import: "./src/index.js"}},
	}
	applyDefaults(config, func(string) bool { return false })

	return config
}

// applyDefaults fills unset values. isSet reports whether a boolean key was
// given explicitly, since false is indistinguishable from unset otherwise.
func applyDefaults(config *Config, isSet func(string) bool) {
	if config.Root == "" {
		config.Root = "."
	}

	// Output
	if config.Output.Dir == "" {
		config.Output.Dir = "dist"
	}
	if config.Output.PublicPath == "" {
		config.Output.PublicPath = "/"
	}
	if config.Output.JSFilename == "" {
		config.Output.JSFilename = "[name].[hash].js"
	}
	if config.Output.CSSFilename == "" {
		config.Output.CSSFilename = "[name].[hash].css"
	}
	if config.Output.HashLength == 0 {
		config.Output.HashLength = DefaultHashLength
	}
	if config.Output.Manifest == "" {
		config.Output.Manifest = DefaultManifestFilename
	}
	if !isSet("output.minify") {
		config.Output.Minify = true
	}

	// Resolve
	if len(config.Resolve.Modules) == 0 {
		config.Resolve.Modules = []string{"src", "node_modules"}
	}
	if len(config.Resolve.Extensions) == 0 {
		config.Resolve.Extensions = []string{".ts", "..."}
	}
	if len(config.Resolve.Alias) == 0 && !isSet("resolve.alias") {
		config.Resolve.Alias = []AliasConfig{
			{Name: "~", Path: "src"},
			{Name: "@", Path: "src"},
			{Name: "components", Path: "src/components"},
		}
	}

	// Transform
	if config.Transform.Timeout == 0 {
		config.Transform.Timeout = DefaultTimeout
	}
	if config.Transform.CacheDir == "" {
		config.Transform.CacheDir = ".splitpack/cache"
	}
	if config.Transform.MemoryEntries == 0 {
		config.Transform.MemoryEntries = DefaultMemoryEntries
	}
	if !isSet("transform.cache") {
		config.Transform.Cache = true
	}
	if len(config.Transform.Exclude) == 0 && !isSet("transform.exclude") {
		config.Transform.Exclude = []string{"node_modules"}
	}
	if len(config.Transform.NoParse) == 0 && !isSet("transform.no_parse") {
		config.Transform.NoParse = []string{"jquery|lodash"}
	}
	if len(config.Transform.Script) == 0 {
		config.Transform.Script = []StageConfig{{Type: "esbuild", Target: "es2017"}}
	}
	if len(config.Transform.JSON) == 0 {
		config.Transform.JSON = []StageConfig{{Type: "json"}}
	}
	if len(config.Transform.Stylesheet) == 0 {
		config.Transform.Stylesheet = []StageConfig{{Type: "passthrough"}}
	}

	// Assets
	if !isSet("assets.image_threshold") && config.Assets.ImageThreshold == 0 {
		config.Assets.ImageThreshold = DefaultImageThreshold
	}
	if !isSet("assets.font_threshold") && config.Assets.FontThreshold == 0 {
		config.Assets.FontThreshold = DefaultFontThreshold
	}
	if config.Assets.Filename == "" {
		config.Assets.Filename = "[name][hash:8][ext]"
	}

	// Split
	if config.Split.Chunks == "" {
		config.Split.Chunks = "all"
	}
	if !isSet("split.min_size") && config.Split.MinSize == 0 {
		config.Split.MinSize = 20000
	}
	if config.Split.MinChunks == 0 {
		config.Split.MinChunks = 1
	}
	if config.Split.MaxAsyncRequests == 0 {
		config.Split.MaxAsyncRequests = 30
	}
	if config.Split.MaxInitialRequests == 0 {
		config.Split.MaxInitialRequests = 30
	}
	if !isSet("split.enforce_size_threshold") && config.Split.EnforceSizeThreshold == 0 {
		config.Split.EnforceSizeThreshold = 50000
	}
	if len(config.Split.CacheGroups) == 0 && !isSet("split.cache_groups") {
		config.Split.CacheGroups = DefaultCacheGroups()
	}

	// Purge
	if !isSet("purge.enabled") {
		config.Purge.Enabled = true
	}
	if len(config.Purge.Content) == 0 && !isSet("purge.content") {
		config.Purge.Content = []string{"src"}
	}

	// Externals
	if len(config.Externals) == 0 && !isSet("externals") {
		config.Externals = []ExternalConfig{{Name: "jquery", Global: "jQuery"}}
	}

	// Log
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// DefaultCacheGroups returns the vendors and default groups.
func DefaultCacheGroups() []CacheGroupConfig {
	return []CacheGroupConfig{
		{
			Key:                DefaultVendorsGroup,
			Test:               DefaultVendorsTest,
			Priority:           -10,
			ReuseExistingChunk: true,
		},
		{
			Key:                DefaultGroup,
			MinChunks:          2,
			Priority:           -20,
			ReuseExistingChunk: true,
		},
	}
}

// resolvePaths makes every filesystem path absolute relative to Root.
func resolvePaths(config *Config) error {
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return fmt.Errorf("resolving root %q: %w", config.Root, err)
	}
	config.Root = root

	config.Output.Dir = rooted(root, config.Output.Dir)
	config.Transform.CacheDir = rooted(root, config.Transform.CacheDir)

	for i, m := range config.Resolve.Modules {
		config.Resolve.Modules[i] = rooted(root, m)
	}
	for i, a := range config.Resolve.Alias {
		config.Resolve.Alias[i].Path = rooted(root, a.Path)
	}
	for i, c := range config.Purge.Content {
		config.Purge.Content[i] = rooted(root, c)
	}

	return nil
}

func rooted(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(root, p)
}

// EntryMap returns entries keyed by name.
func (c *Config) EntryMap() map[string]string {
	m := make(map[string]string, len(c.Entries))
	for _, e := range c.Entries {
		m[e.Name] = e.Import
	}

	return m
}
