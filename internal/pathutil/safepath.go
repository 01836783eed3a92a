// Package pathutil vets file paths taken from requests and application
// configs before they are resolved inside a project repository.
package pathutil

import "strings"

// Escapes reports whether p could resolve outside the repository directory
// it is joined to. That is a "." or ".." segment, a backslash (a separator
// on some provider backends), or a NUL byte.
func Escapes(p string) bool {
	if strings.ContainsAny(p, "\\\x00") {
		return true
	}
	for seg := range strings.SplitSeq(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
