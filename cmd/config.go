package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/split"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration after defaults and environment are applied",
	Long: `Print the configuration resolved from every source (flags, environment,
file, defaults). Paths are shown absolute. Credentials are masked.

Examples:
  splitpack config show                # YAML
  splitpack config show --format json  # JSON`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration, including split constraints",
	RunE:  runConfigValidate,
}

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	masked := *cfg
	if masked.Publish.AccessKey != "" {
		masked.Publish.AccessKey = "****"
	}
	if masked.Publish.SecretKey != "" {
		masked.Publish.SecretKey = "****"
	}

	var data []byte
	switch configFormat {
	case "yaml", "yml":
		data, err = yaml.Marshal(&masked)
	case "json":
		data, err = json.MarshalIndent(&masked, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if _, err := split.ConstraintsFromConfig(&cfg.Split, cfg.Entries); err != nil {
		return err
	}

	successColor.Fprintf(cmd.OutOrStdout(), "✓ Configuration is valid (%d entries, %d cache groups)\n",
		len(cfg.Entries), len(cfg.Split.CacheGroups))
	return nil
}
