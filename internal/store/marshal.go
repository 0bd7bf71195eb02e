package store

import (
	"encoding/json"
	"fmt"

	"github.com/silky/retcon/internal/diff"
	"github.com/silky/retcon/internal/document"
)

// Documents are stored as their sorted (path, scalar) pairs rather than
// the JSON embedding: the embedding is lossy for a node carrying both a
// scalar and children, and the store must round-trip faithfully.
type wirePair struct {
	Path  []string `json:"path"`
	Value string   `json:"value"`
}

// marshalDocument converts a document to its stored TEXT form.
// The pair order follows Paths(), so equal documents serialize
// identically.
func marshalDocument(d *document.Document) (string, error) {
	paths := d.Paths()
	pairs := make([]wirePair, 0, len(paths))
	for _, ps := range paths {
		labels := []string(ps.Path)
		if labels == nil {
			labels = []string{}
		}
		pairs = append(pairs, wirePair{Path: labels, Value: ps.Scalar})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// unmarshalDocument parses the stored TEXT form back into a document.
func unmarshalDocument(data string) (*document.Document, error) {
	var pairs []wirePair
	if err := json.Unmarshal([]byte(data), &pairs); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}

	doc := document.New()
	for _, pair := range pairs {
		if err := doc.Set(document.Path(pair.Path), pair.Value); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
	}
	return doc, nil
}

// marshalPatch converts a patch to canonical JSON TEXT for the audit
// log.
func marshalPatch(p diff.Patch) (string, error) {
	data, err := json.Marshal(p.Canonical())
	if err != nil {
		return "", fmt.Errorf("marshal patch: %w", err)
	}
	return string(data), nil
}

// unmarshalPatch parses a stored patch. Used by operator tooling and
// tests reading the audit log.
func unmarshalPatch(data string) (diff.Patch, error) {
	var p diff.Patch
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal patch: %w", err)
	}
	return p, nil
}
