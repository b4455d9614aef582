package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/splitpack/internal/errors"
	"github.com/conneroisu/splitpack/internal/validation"
)

var (
	validChunks = map[string]bool{"all": true, "async": true, "initial": true}
	validStages = map[string]bool{"esbuild": true, "json": true, "command": true, "passthrough": true}
)

// validateConfig validates configuration values for correctness. Split
// settings that cannot produce a valid partition are reported as
// ConstraintViolation so they surface before any traversal begins.
func validateConfig(config *Config) error {
	if err := validateEntries(config.Entries); err != nil {
		return err
	}

	if err := validateOutputConfig(config.Root, &config.Output); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := validateResolveConfig(&config.Resolve); err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	if err := validateTransformConfig(&config.Transform); err != nil {
		return fmt.Errorf("transform config: %w", err)
	}

	if err := validateAssetsConfig(&config.Assets); err != nil {
		return fmt.Errorf("assets config: %w", err)
	}

	if err := ValidateSplit(&config.Split, config.Entries); err != nil {
		return err
	}

	for i, pattern := range config.Purge.Safelist {
		if _, err := regexp.Compile(pattern); err != nil {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("purge.safelist[%d]: invalid pattern %q: %v", i, pattern, err))
		}
	}

	for i, ext := range config.Externals {
		if ext.Name == "" || ext.Global == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("externals[%d]: name and global are required", i))
		}
	}

	if config.Publish.Enabled {
		if config.Publish.Endpoint == "" || config.Publish.Bucket == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				"publish: endpoint and bucket are required when publishing is enabled")
		}
	}

	return nil
}

func validateEntries(entries []EntryConfig) error {
	if len(entries) == 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "at least one entry is required")
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Name == "" || e.Import == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("entries[%d]: name and import are required", i))
		}
		if strings.ContainsAny(e.Name, `/\`) {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("entries[%d]: name %q must not contain path separators", i, e.Name))
		}
		if seen[e.Name] {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("entries[%d]: duplicate entry name %q", i, e.Name))
		}
		seen[e.Name] = true
	}

	return nil
}

func validateOutputConfig(root string, config *OutputConfig) error {
	// Paths are absolute once Load has rooted them.
	if filepath.IsAbs(root) {
		if err := validation.ValidateOutputDir(root, config.Dir); err != nil {
			return err
		}
	}
	if err := validation.ValidatePublicPath(config.PublicPath); err != nil {
		return err
	}

	if config.HashLength < 8 || config.HashLength > 64 {
		return fmt.Errorf("hash_length %d is not in valid range 8-64", config.HashLength)
	}

	for field, tmpl := range map[string]string{
		"js_filename":  config.JSFilename,
		"css_filename": config.CSSFilename,
	} {
		if !strings.Contains(tmpl, "[name]") || !strings.Contains(tmpl, "[hash") {
			return fmt.Errorf("%s %q must contain [name] and [hash]", field, tmpl)
		}
	}

	if strings.ContainsAny(config.Manifest, `/\`) {
		return fmt.Errorf("manifest %q must be a bare filename", config.Manifest)
	}

	return nil
}

func validateResolveConfig(config *ResolveConfig) error {
	for _, ext := range config.Extensions {
		if ext != "..." && !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}

	for i, a := range config.Alias {
		if a.Name == "" || a.Path == "" {
			return fmt.Errorf("alias[%d]: name and path are required", i)
		}
	}

	return nil
}

func validateTransformConfig(config *TransformConfig) error {
	if config.Workers < 0 {
		return fmt.Errorf("workers %d must not be negative", config.Workers)
	}
	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	for _, patterns := range [][]string{config.Exclude, config.NoParse} {
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", p, err)
			}
		}
	}

	chains := map[string][]StageConfig{
		"script":     config.Script,
		"json":       config.JSON,
		"stylesheet": config.Stylesheet,
	}
	for kind, stages := range chains {
		for i, s := range stages {
			if !validStages[s.Type] {
				return fmt.Errorf("%s[%d]: unknown stage type %q", kind, i, s.Type)
			}
			if s.Type == "command" && s.Command == "" {
				return fmt.Errorf("%s[%d]: command stage requires a command", kind, i)
			}
		}
	}

	return nil
}

func validateAssetsConfig(config *AssetsConfig) error {
	if config.ImageThreshold < 0 || config.FontThreshold < 0 || config.OtherThreshold < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if !strings.Contains(config.Filename, "[hash") {
		return fmt.Errorf("filename %q must contain [hash]", config.Filename)
	}

	return nil
}

// ValidateSplit checks chunk constraints and cache groups. Every failure is
// a *errors.ConstraintViolation naming the offending field.
func ValidateSplit(config *SplitConfig, entries []EntryConfig) error {
	if !validChunks[config.Chunks] {
		return errors.NewConstraintViolation("split.chunks",
			fmt.Sprintf("%q must be one of all, async, initial", config.Chunks))
	}
	if config.MinSize < 0 || config.MinRemainingSize < 0 || config.EnforceSizeThreshold < 0 {
		return errors.NewConstraintViolation("split", "size limits must not be negative")
	}
	if config.MinChunks < 1 {
		return errors.NewConstraintViolation("split.min_chunks", "must be at least 1")
	}
	if config.MaxAsyncRequests < 1 {
		return errors.NewConstraintViolation("split.max_async_requests", "must be at least 1")
	}
	if config.MaxInitialRequests < 1 {
		return errors.NewConstraintViolation("split.max_initial_requests", "must be at least 1")
	}

	entryNames := make(map[string]bool, len(entries))
	for _, e := range entries {
		entryNames[e.Name] = true
	}

	keys := make(map[string]bool, len(config.CacheGroups))
	fixed := make(map[string]CacheGroupConfig)
	for i, g := range config.CacheGroups {
		field := fmt.Sprintf("split.cache_groups[%d]", i)
		if g.Key == "" {
			return errors.NewConstraintViolation(field+".key", "is required")
		}
		if keys[g.Key] {
			return errors.NewConstraintViolation(field+".key", fmt.Sprintf("duplicate cache group %q", g.Key))
		}
		keys[g.Key] = true

		if g.Test != "" {
			if _, err := regexp.Compile(g.Test); err != nil {
				return errors.NewConstraintViolation(field+".test", fmt.Sprintf("invalid regexp: %v", err))
			}
		}
		if g.Chunks != "" && !validChunks[g.Chunks] {
			return errors.NewConstraintViolation(field+".chunks",
				fmt.Sprintf("%q must be one of all, async, initial", g.Chunks))
		}
		if g.MinChunks < 0 {
			return errors.NewConstraintViolation(field+".min_chunks", "must not be negative")
		}
		if g.MinSize != nil && *g.MinSize < 0 {
			return errors.NewConstraintViolation(field+".min_size", "must not be negative")
		}

		if g.Name == "" {
			continue
		}
		if entryNames[g.Name] {
			return errors.NewConstraintViolation(field+".name",
				fmt.Sprintf("chunk name %q collides with an entry", g.Name))
		}
		// Two groups may share a fixed name only when they would merge into
		// one chunk under identical rules; otherwise the partition is ambiguous.
		if prev, ok := fixed[g.Name]; ok {
			if prev.Priority != g.Priority || prev.Chunks != g.Chunks {
				return errors.NewConstraintViolation(field+".name",
					fmt.Sprintf("chunk name %q is claimed by groups %q and %q with conflicting settings",
						g.Name, prev.Key, g.Key))
			}
		}
		fixed[g.Name] = g
	}

	return nil
}
