// Package cmd provides the splitpack command-line interface.
//
// Configuration is read from, highest priority first:
//  1. Command-line flags (--config, --log-level, --root)
//  2. SPLITPACK_CONFIG_FILE: path to a configuration file
//  3. Individual environment variables (SPLITPACK_OUTPUT_DIR, ...)
//  4. .splitpack.yml in the current directory
//
// A .env file in the current directory is loaded into the environment
// before any of the above is consulted.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "splitpack",
	Short: "Bundle a JavaScript project into split, hashed chunks",
	Long: `splitpack walks a project's module graph from its entry points, runs each
module through its transform chain, splits the result into entry, async and
shared chunks and writes content-hashed files plus a manifest.

Quick Start:
  splitpack init                  Write a default .splitpack.yml
  splitpack build                 Build once
  splitpack watch                 Rebuild on every change
  splitpack config show           Print the effective configuration`,
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .splitpack.yml, can also use SPLITPACK_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.StringP("root", "C", "", "project root (default is the current directory)")

	bindFlags(flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"root":       "root",
	})
}

// bindFlags binds flags in fs to configuration keys, flag name to key. A
// flag only overrides the file and environment when it is given.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

func initConfig() {
	// A missing .env is not an error.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SPLITPACK_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".splitpack")
	}

	viper.SetEnvPrefix("SPLITPACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads and validates configuration and builds the logger it
// asks for.
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		Component: "splitpack",
	})

	return cfg, logger, nil
}
