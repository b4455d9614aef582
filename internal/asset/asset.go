// Package asset classifies binary modules as inlined data URIs or emitted
// files.
package asset

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"mime"
	"path/filepath"
	"strings"
)

// Category groups assets that share an inline threshold.
type Category int

const (
	CategoryOther Category = iota
	CategoryImage
	CategoryFont
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryFont:
		return "font"
	default:
		return "other"
	}
}

var categories = map[string]Category{
	".png":   CategoryImage,
	".jpg":   CategoryImage,
	".jpeg":  CategoryImage,
	".gif":   CategoryImage,
	".svg":   CategoryImage,
	".webp":  CategoryImage,
	".avif":  CategoryImage,
	".ico":   CategoryImage,
	".bmp":   CategoryImage,
	".woff":  CategoryFont,
	".woff2": CategoryFont,
	".ttf":   CategoryFont,
	".otf":   CategoryFont,
	".eot":   CategoryFont,
}

// mime.TypeByExtension depends on the host's mime tables; these are pinned
// so data URIs are identical on every machine.
var mimeTypes = map[string]string{
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".bmp":   "image/bmp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
}

// CategoryOf returns the category for a file by extension.
func CategoryOf(path string) Category {
	return categories[strings.ToLower(filepath.Ext(path))]
}

// MIMEType returns the media type used in data URIs for path.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}

	return "application/octet-stream"
}

// Thresholds holds the per-category inline limits in bytes. An asset is
// inlined when its size is strictly below the limit, so zero always emits.
type Thresholds struct {
	Image int64
	Font  int64
	Other int64
}

// For returns the threshold for a category.
func (t Thresholds) For(c Category) int64 {
	switch c {
	case CategoryImage:
		return t.Image
	case CategoryFont:
		return t.Font
	default:
		return t.Other
	}
}

// Input is one binary module to classify.
type Input struct {
	// Path is the root-relative module name without its query; its base
	// name and extension feed the filename template.
	Path string
	// Query is the "?..." suffix the asset was imported with. It is kept on
	// emitted URLs ("font.eot?#iefix") and never affects the decision.
	Query   string
	Content []byte
}

// Decision records how an asset is shipped. Exactly one of DataURI and
// Filename is set.
type Decision struct {
	Inline   bool
	DataURI  string
	Filename string
	Category Category
	Size     int64
	Hash     string
	Query    string
}

// URL returns the reference written into code and stylesheets.
func (d *Decision) URL(publicPath string) string {
	if d.Inline {
		return d.DataURI
	}
	if publicPath != "" && !strings.HasSuffix(publicPath, "/") {
		publicPath += "/"
	}

	return publicPath + d.Filename + d.Query
}

// Classifier decides inline versus emit for binary modules.
type Classifier struct {
	thresholds Thresholds
	template   string
}

// NewClassifier creates a classifier with the given thresholds and emit
// filename template (see RenderFilename).
func NewClassifier(thresholds Thresholds, template string) *Classifier {
	if template == "" {
		template = "[name][hash:8][ext]"
	}

	return &Classifier{thresholds: thresholds, template: template}
}

// Classify returns the decision for in. The result depends only on the
// content, the path and the configured thresholds.
func (c *Classifier) Classify(in Input) Decision {
	sum := sha256.Sum256(in.Content)
	digest := hex.EncodeToString(sum[:])
	size := int64(len(in.Content))
	category := CategoryOf(in.Path)

	d := Decision{
		Category: category,
		Size:     size,
		Hash:     digest,
		Query:    in.Query,
	}

	if size < c.thresholds.For(category) {
		d.Inline = true
		d.DataURI = "data:" + MIMEType(in.Path) + ";base64," + base64.StdEncoding.EncodeToString(in.Content)

		return d
	}

	ext := filepath.Ext(in.Path)
	name := strings.TrimSuffix(filepath.Base(in.Path), ext)
	d.Filename = RenderFilename(c.template, name, ext, digest, 8)

	return d
}
