// Package pathutil holds the slash-path helpers shared by the store and
// the replica layer. Paths are relative, slash delimited, with no
// leading or trailing separator; a root entry is a single segment.
package pathutil

import "strings"

const Separator = "/"

// Valid reports whether p is a well-formed entry path: non-empty, no
// leading/trailing separator, no empty segments.
func Valid(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, Separator) {
		if seg == "" {
			return false
		}
	}
	return true
}

// Segments splits p into its path segments.
func Segments(p string) []string {
	return strings.Split(p, Separator)
}

// Leaf returns the final segment of p.
func Leaf(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns the parent path of p, or "" for root paths.
func Parent(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[:i]
	}
	return ""
}

// RenameLeaf replaces only the final segment of p, leaving ancestors
// untouched.
func RenameLeaf(p, newLeaf string) string {
	if parent := Parent(p); parent != "" {
		return parent + Separator + newLeaf
	}
	return newLeaf
}

// Ancestors returns every proper ancestor path of p, shortest prefix
// first. This is the order ancestor directories must be created in so
// that each one can parent-link the next. Root paths have none.
func Ancestors(p string) []string {
	segs := Segments(p)
	if len(segs) < 2 {
		return nil
	}
	out := make([]string, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], Separator))
	}
	return out
}

// WithinSubtree reports whether candidate is root itself or a
// descendant of it. The comparison is segment aware: "a/b" contains
// "a/b/c" but not "a/bc".
func WithinSubtree(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+Separator)
}
