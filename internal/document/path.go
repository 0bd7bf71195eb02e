package document

import (
	"strings"
	"unicode/utf16"
)

// Path identifies a node in a document as a sequence of edge labels.
// The empty path denotes the root.
type Path []string

// ParsePath splits a dotted path expression into a Path.
// ParsePath("") returns the root path.
func ParsePath(s string) Path {
	if s == "" {
		return Path{}
	}
	return Path(strings.Split(s, "."))
}

// String renders the path as a dotted expression. The root renders as "".
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Child returns a new path extended by one label.
// The receiver is not modified.
func (p Path) Child(label string) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	return append(child, label)
}

// Equal reports whether two paths have the same labels.
func (p Path) Equal(q Path) bool {
	return ComparePaths(p, q) == 0
}

// ComparePaths orders paths label by label, shorter prefixes first.
// Labels compare by UTF-16 code units so the order agrees with the
// canonical JSON key order used for serialized documents.
func ComparePaths(p, q Path) int {
	n := len(p)
	if len(q) < n {
		n = len(q)
	}
	for i := 0; i < n; i++ {
		if c := compareLabels(p[i], q[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	default:
		return 0
	}
}

// compareLabels compares edge labels using UTF-16 code unit ordering,
// matching RFC 8785 canonical JSON key order.
// Go's native string comparison is UTF-8 and produces a DIFFERENT order
// for strings containing supplementary-plane characters.
func compareLabels(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}
