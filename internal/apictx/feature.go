package apictx

import "strings"

// DefaultFlag matches every request.
const DefaultFlag = "default"

// Features is the set of feature flags active for one request.
type Features struct {
	flags []string
}

// NewFeatures combines the featureFlags cookie with the featureFlags
// setting. Both are colon separated lists.
func NewFeatures(cookie string, setting any) Features {
	var f Features
	f.flags = appendFlags(f.flags, cookie)
	if s, ok := setting.(string); ok {
		f.flags = appendFlags(f.flags, s)
	}
	return f
}

func appendFlags(dst []string, s string) []string {
	if s == "" {
		return dst
	}
	return append(dst, strings.Split(s, ":")...)
}

func (f Features) Has(flag string) bool {
	for _, x := range f.flags {
		if x == flag {
			return true
		}
	}
	return false
}

func (f Features) Flags() []string {
	return append([]string(nil), f.flags...)
}

// Select returns the first key, in the given order, that names an active
// flag or "default". A key may list alternatives separated by ":".
func (f Features) Select(keys []string) (string, bool) {
	for _, key := range keys {
		for _, flag := range strings.Split(key, ":") {
			if flag == DefaultFlag || f.Has(flag) {
				return key, true
			}
		}
	}
	return "", false
}
