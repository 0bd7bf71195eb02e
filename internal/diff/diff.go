package diff

import (
	"fmt"
	"slices"

	"github.com/silky/retcon/internal/document"
)

// Diff returns the canonical patch transforming a into b:
// Apply(a, Diff(a, b)) equals b.
//
// The diff is computed over the union of scalar-bearing paths of both
// documents. A path whose scalar agrees contributes nothing; a path
// present in b contributes an Insert; a path present only in a
// contributes a Delete.
func Diff(a, b *document.Document) Patch {
	paths := make(map[string]document.Path)
	for _, ps := range a.Paths() {
		paths[pathKey(ps.Path)] = ps.Path
	}
	for _, ps := range b.Paths() {
		paths[pathKey(ps.Path)] = ps.Path
	}

	var p Patch
	for _, path := range paths {
		av, aok := a.Get(path)
		bv, bok := b.Get(path)
		switch {
		case aok == bok && av == bv:
			// agreement, nothing to emit
		case bok:
			p = append(p, Change{Kind: Insert, Path: path, Value: bv})
		default:
			p = append(p, Change{Kind: Delete, Path: path})
		}
	}
	return p.Canonical()
}

// Apply applies a patch to a document and returns the result as a new
// value; the input is not modified. Application is total on well-formed
// patches: deleting a missing path is a no-op and inserts create
// intermediate nodes. Empty internal nodes are pruned.
//
// The only error cases are operations no well-formed patch contains
// (empty edge labels, non-UTF-8 scalars, unknown change kinds).
func Apply(d *document.Document, p Patch) (*document.Document, error) {
	out := d.Clone()
	for _, c := range p {
		switch c.Kind {
		case Insert:
			if err := out.Set(c.Path, c.Value); err != nil {
				return nil, fmt.Errorf("apply %s: %w", c, err)
			}
		case Delete:
			out.Unset(c.Path)
		default:
			return nil, fmt.Errorf("apply: unknown change kind %q", c.Kind)
		}
	}
	return out, nil
}

// InitialDocument computes the agreement of a collection of documents:
// the result holds (path, scalar) exactly where every input document
// holds that scalar. The agreement of no documents is the empty document.
//
// This is the common-ancestor surrogate used when no stored initial
// document exists for an internal key.
func InitialDocument(docs []*document.Document) *document.Document {
	out := document.New()
	if len(docs) == 0 {
		return out
	}

	for _, ps := range docs[0].Paths() {
		agreed := true
		for _, d := range docs[1:] {
			v, ok := d.Get(ps.Path)
			if !ok || v != ps.Scalar {
				agreed = false
				break
			}
		}
		if agreed {
			// Paths() yields valid labels and scalars, Set cannot fail.
			_ = out.Set(ps.Path, ps.Scalar)
		}
	}
	return out
}

// SortedPaths returns the distinct paths touched by the patch in
// canonical order. Used by traces and tests.
func (p Patch) SortedPaths() []document.Path {
	seen := make(map[string]document.Path)
	for _, c := range p {
		seen[pathKey(c.Path)] = c.Path
	}
	out := make([]document.Path, 0, len(seen))
	for _, path := range seen {
		out = append(out, path)
	}
	slices.SortFunc(out, document.ComparePaths)
	return out
}
