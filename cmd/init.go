package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/splitpack/internal/config"
)

const defaultConfigName = ".splitpack.yml"

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Write a default configuration file",
	Long: `Write .splitpack.yml with every setting at its default value. If no
directory is given, the current directory is used.

Examples:
  splitpack init                 # Write ./.splitpack.yml
  splitpack init web             # Write web/.splitpack.yml
  splitpack init --entry app=./src/app.ts
  splitpack init --force         # Overwrite an existing file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initForce   bool
	initEntries []string
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing configuration file")
	initCmd.Flags().StringSliceVarP(&initEntries, "entry", "e", nil, "entry point as name=path (repeatable)")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	path := filepath.Join(dir, defaultConfigName)
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if len(initEntries) > 0 {
		cfg.Entries = nil
		for _, e := range initEntries {
			name, imp, ok := cutEntry(e)
			if !ok {
				return fmt.Errorf("invalid --entry %q: expected name=path", e)
			}
			cfg.Entries = append(cfg.Entries, config.EntryConfig{Name: name, Import: imp})
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	successColor.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return nil
}

func cutEntry(s string) (name, path string, ok bool) {
	name, path, found := strings.Cut(s, "=")
	if !found {
		return "", "", false
	}
	return name, path, name != "" && path != ""
}
