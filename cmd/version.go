package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conneroisu/splitpack/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for splitpack: release version, git commit,
build time, linked esbuild version, Go version and platform.

Examples:
  splitpack version              # Version and commit
  splitpack version --detailed   # Every build fact
  splitpack version --format json`,
	RunE: runVersionCommand,
}

var versionColor = color.New(color.FgGreen, color.Bold)

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "show short version only")
	versionCmd.Flags().Bool("detailed", false, "show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	out := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(version.GetBuildInfo())
	case "text":
		switch {
		case versionShort:
			fmt.Fprintln(out, version.GetShortVersion())
		case detailed:
			fmt.Fprintln(out, version.GetDetailedVersion())
		default:
			info := version.GetBuildInfo()
			fmt.Fprintf(out, "splitpack %s", versionColor.Sprint(info.Version))
			if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
				fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
			}
			fmt.Fprintln(out)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}
