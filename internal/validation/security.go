// Package validation provides security checks for user-supplied command
// lines and output locations.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	// Check for shell metacharacters that could be used for command injection
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	// Check for path traversal attempts
	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name. A nil allowlist accepts any
// command that passes the argument checks.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if allowedCommands != nil && !allowedCommands[command] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	if strings.ContainsAny(command, " \t\n") {
		return fmt.Errorf("command '%s' must not contain whitespace; pass arguments separately", command)
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	return nil
}

// ValidateOutputDir rejects output directories that would clobber the
// project when replaced: the root itself, any ancestor of it, or a
// filesystem root. Both paths must be absolute.
func ValidateOutputDir(root, out string) error {
	if out == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if !filepath.IsAbs(out) || !filepath.IsAbs(root) {
		return fmt.Errorf("output directory and root must be absolute")
	}

	out = filepath.Clean(out)
	root = filepath.Clean(root)

	if out == filepath.Dir(out) {
		return fmt.Errorf("output directory %s is a filesystem root", out)
	}
	if out == root {
		return fmt.Errorf("output directory %s is the project root", out)
	}
	rel, err := filepath.Rel(out, root)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return fmt.Errorf("output directory %s contains the project root", out)
	}

	return nil
}
