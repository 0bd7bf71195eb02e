// Package diff implements the structural diff/patch algebra over
// documents: patches as first-class values, canonicalization, and the
// agreement ("initial document") computation used as the common ancestor
// in three-way merges.
package diff

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/silky/retcon/internal/document"
)

// Kind discriminates patch operations.
type Kind string

const (
	// Delete removes the scalar at a path; empty internal nodes are
	// pruned after application.
	Delete Kind = "delete"

	// Insert creates or overwrites the scalar at a path, creating
	// intermediate internal nodes as needed.
	Insert Kind = "insert"
)

// Change is a single patch operation. Value is meaningful only for
// Insert.
type Change struct {
	Kind  Kind
	Path  document.Path
	Value string
}

// String renders a change for traces and error messages.
func (c Change) String() string {
	if c.Kind == Insert {
		return fmt.Sprintf("insert %q = %q", c.Path, c.Value)
	}
	return fmt.Sprintf("delete %q", c.Path)
}

// Patch is an ordered sequence of changes. Patches compose by
// concatenation; Canonical normalizes the result.
type Patch []Change

// IsEmpty reports whether the patch has no operations.
func (p Patch) IsEmpty() bool {
	return len(p) == 0
}

// Concat composes two patches by concatenation. The result is not
// canonical; later operations supersede earlier ones at the same path
// once canonicalized.
func (p Patch) Concat(q Patch) Patch {
	out := make(Patch, 0, len(p)+len(q))
	out = append(out, p...)
	return append(out, q...)
}

// Canonical returns the canonical form of the patch: one operation per
// path (the last in sequence order wins), sorted by (path, kind) with
// Delete before Insert. Canonicalization is idempotent.
func (p Patch) Canonical() Patch {
	last := make(map[string]Change, len(p))
	order := make([]string, 0, len(p))
	for _, c := range p {
		key := pathKey(c.Path)
		if _, seen := last[key]; !seen {
			order = append(order, key)
		}
		last[key] = c
	}

	out := make(Patch, 0, len(order))
	for _, key := range order {
		out = append(out, last[key])
	}
	slices.SortFunc(out, compareChanges)
	return out
}

// Touches reports whether the patch contains an operation at the given
// path.
func (p Patch) Touches(path document.Path) bool {
	for _, c := range p {
		if c.Path.Equal(path) {
			return true
		}
	}
	return false
}

func compareChanges(a, b Change) int {
	if c := document.ComparePaths(a.Path, b.Path); c != 0 {
		return c
	}
	// Delete sorts before Insert at the same path.
	switch {
	case a.Kind == b.Kind:
		return 0
	case a.Kind == Delete:
		return -1
	default:
		return 1
	}
}

// pathKey builds a map key for a path by joining its labels with NUL.
// Distinct paths get distinct keys as long as no label contains NUL;
// FromJSON does not reject NUL ("\u0000") in object keys.
func pathKey(p document.Path) string {
	return strings.Join(p, "\x00")
}

// wireChange is the stored JSON form of a Change.
type wireChange struct {
	Op    string   `json:"op"`
	Path  []string `json:"path"`
	Value *string  `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler for Change.
func (c Change) MarshalJSON() ([]byte, error) {
	w := wireChange{Op: string(c.Kind), Path: []string(c.Path)}
	if w.Path == nil {
		w.Path = []string{}
	}
	if c.Kind == Insert {
		v := c.Value
		w.Value = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for Change.
func (c *Change) UnmarshalJSON(data []byte) error {
	var w wireChange
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch Kind(w.Op) {
	case Insert:
		if w.Value == nil {
			return fmt.Errorf("insert change without value at %q", document.Path(w.Path))
		}
		c.Value = *w.Value
	case Delete:
		c.Value = ""
	default:
		return fmt.Errorf("unknown change op %q", w.Op)
	}
	c.Kind = Kind(w.Op)
	c.Path = document.Path(w.Path)
	return nil
}
