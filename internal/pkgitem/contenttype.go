package pkgitem

import (
	"mime"
	"path"
	"strings"
)

const charsetUTF8 = "; charset=utf-8"

// Source files are served with their executable type so module loaders
// accept them. mime's system tables vary by host, the common web types are
// pinned here.
var knownTypes = map[string]string{
	".ts":    "application/typescript",
	".tsx":   "application/typescript",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".cjs":   "text/javascript",
	".json":  "application/json",
	".map":   "application/json",
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".svg":   "image/svg+xml",
	".md":    "text/markdown",
	".txt":   "text/plain",
	".xml":   "application/xml",
	".wasm":  "application/wasm",
	".ico":   "image/x-icon",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// ContentType derives the content type of a file from its extension,
// defaulting to text/plain. Textual types carry a utf-8 charset.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	ct, ok := knownTypes[ext]
	if !ok && ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			ct, _, _ = strings.Cut(t, ";")
			ct = strings.TrimSpace(ct)
		}
	}
	if ct == "" {
		ct = "text/plain"
	}
	if isText(ct) {
		ct += charsetUTF8
	}
	return ct
}

func isText(ct string) bool {
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/typescript", "application/json", "application/xml",
		"application/javascript", "image/svg+xml":
		return true
	}
	return false
}

// IsScript reports whether a content type is JavaScript or TypeScript source.
func IsScript(ct string) bool {
	base, _, _ := strings.Cut(ct, ";")
	switch strings.TrimSpace(base) {
	case "text/javascript", "application/javascript", "application/typescript":
		return true
	}
	return false
}
