package pkgitem

import (
	"path"
	"strings"
)

// CachePolicy supplies the cache-control directive for items whose package
// config does not set one.
type CachePolicy struct {
	HTML  string
	Asset string
	Other string
}

// DefaultCachePolicy revalidates everything. ETags change with every
// generation, so revalidation is cheap and a reset is visible at once.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{HTML: "no-cache", Asset: "no-cache", Other: "no-cache"}
}

func (p CachePolicy) forFile(name string) string {
	ext := strings.ToLower(path.Ext(name))

	switch ext {
	case ".html", ".htm":
		return p.HTML

	case ".css", ".js", ".mjs", ".ts",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".eot",
		".map":
		return p.Asset

	default:
		// treat no extension like html to be safe
		if ext == "" {
			return p.HTML
		}
		return p.Other
	}
}
