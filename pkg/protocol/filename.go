package protocol

import "strings"

// SafeFilename reports whether a client-supplied filename may name an entry
// inside the served directory. It rejects empty names, names containing a
// forward or back slash, and names containing the substring "..".
//
// This is a syntactic deny-list, not canonicalization: traversal attempts
// are rejected by shape rather than by resolving the real path. Both GET
// and PUT apply it before touching the filesystem.
func SafeFilename(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}
