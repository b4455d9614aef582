package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL validates absolute http(s) URLs such as a CDN public path.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Only allow http/https schemes to prevent protocol handlers
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	// Characters that would break out of a quoted attribute or script string
	dangerous := []string{"`", "$", "<", ">", "\"", "'", "\\", "\n", "\r", " "}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains dangerous character: %q", char)
		}
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	return nil
}

// ValidatePublicPath accepts a path starting with "/", an empty or relative
// path, or an absolute http(s) URL. The value is embedded in emitted code
// and stylesheets.
func ValidatePublicPath(p string) error {
	if strings.Contains(p, "://") {
		return ValidateURL(p)
	}

	if strings.ContainsAny(p, "`$<>\"'\\\n\r ") {
		return fmt.Errorf("public path %q contains characters that are not allowed", p)
	}

	return nil
}
