// Package mime maps file names to content types and content types to compile loaders.
package mime

import (
	"path"
	"strings"
)

var typeExts = map[string][]string{
	"application/javascript;": {"js", "mjs", "cjs"},
	"application/json;":       {"json", "map"},
	"application/wasm":        {"wasm"},
	"application/xml;":        {"xml"},
	"font/otf":                {"otf"},
	"font/ttf":                {"ttf"},
	"font/woff":               {"woff"},
	"font/woff2":              {"woff2"},
	"image/avif":              {"avif"},
	"image/gif":               {"gif"},
	"image/jpeg":              {"jpg", "jpeg"},
	"image/png":               {"png"},
	"image/svg+xml;":          {"svg"},
	"image/webp":              {"webp"},
	"image/x-icon":            {"ico"},
	"text/css":                {"css"},
	"text/html":               {"html", "htm"},
	"text/jsx":                {"jsx"},
	"text/markdown":           {"md"},
	"text/plain":              {"txt"},
	"text/tsx":                {"tsx"},
	"text/typescript":         {"ts", "mts", "cts"},
	"video/mp4":               {"mp4"},
	"video/webm":              {"webm"},
}

var extTypes = map[string]string{}

func init() {
	for k, exts := range typeExts {
		if strings.HasSuffix(k, ";") || strings.HasPrefix(k, "text/") {
			k = strings.TrimSuffix(k, ";") + "; charset=utf-8"
		}
		for _, ext := range exts {
			extTypes["."+ext] = k
		}
	}
}

// TypeByFilename returns the content type of the file, or an empty string for unknown extensions.
func TypeByFilename(filename string) string {
	return extTypes[path.Ext(filename)]
}

// Loader returns the compile loader of the content type: "js", "jsx", "ts", "tsx" or "css".
func Loader(contentType string) (string, bool) {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/javascript", "text/javascript", "application/x-javascript":
		return "js", true
	case "text/jsx":
		return "jsx", true
	case "text/typescript", "application/typescript", "application/x-typescript":
		return "ts", true
	case "text/tsx":
		return "tsx", true
	case "text/css":
		return "css", true
	}
	return "", false
}
