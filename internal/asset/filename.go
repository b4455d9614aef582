package asset

import (
	"regexp"
	"strconv"
)

var placeholder = regexp.MustCompile(`\[(name|ext|hash|contenthash)(?::(\d+))?\]`)

// RenderFilename expands a filename template. Supported placeholders are
// [name], [ext] (with its leading dot), and [hash] or [contenthash] with an
// optional ":N" length; hashLen applies when no length is given.
func RenderFilename(template, name, ext, digest string, hashLen int) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		switch parts[1] {
		case "name":
			return name
		case "ext":
			return ext
		}

		n := hashLen
		if parts[2] != "" {
			if v, err := strconv.Atoi(parts[2]); err == nil {
				n = v
			}
		}
		if n <= 0 || n > len(digest) {
			n = len(digest)
		}

		return digest[:n]
	})
}
