package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Scalar renderings of JSON booleans. JSON null renders as a missing
// scalar and JSON arrays are rejected outright.
const (
	ScalarTrue  = "TRUE"
	ScalarFalse = "FALSE"
)

// MalformedError reports JSON that has no document embedding: arrays,
// empty object keys, or text that is not valid UTF-8.
type MalformedError struct {
	Path   Path
	Reason string
}

func (e *MalformedError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("malformed document: %s", e.Reason)
	}
	return fmt.Sprintf("malformed document at %q: %s", e.Path, e.Reason)
}

// FromJSON embeds a JSON value into a document.
//
// Objects become internal nodes, strings and numbers become leaves whose
// scalar is the textual rendering, booleans render as TRUE/FALSE, and null
// members are dropped (a null scalar is a missing scalar). Arrays are
// unsupported and return a *MalformedError.
func FromJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	return fromJSONValue(raw, Path{})
}

func fromJSONValue(v any, at Path) (*Document, error) {
	switch val := v.(type) {
	case nil:
		return New(), nil
	case string:
		if !utf8.ValidString(val) {
			return nil, &MalformedError{Path: at, Reason: "scalar is not valid UTF-8"}
		}
		return FromScalar(val), nil
	case json.Number:
		return FromScalar(val.String()), nil
	case bool:
		if val {
			return FromScalar(ScalarTrue), nil
		}
		return FromScalar(ScalarFalse), nil
	case []any:
		return nil, &MalformedError{Path: at, Reason: "arrays are unsupported"}
	case map[string]any:
		doc := New()
		for label, member := range val {
			if label == "" {
				return nil, &MalformedError{Path: at, Reason: "empty object key"}
			}
			if member == nil {
				// null member: missing scalar, no child recorded
				continue
			}
			child, err := fromJSONValue(member, at.Child(label))
			if err != nil {
				return nil, err
			}
			if doc.children == nil {
				doc.children = make(map[string]*Document)
			}
			doc.children[label] = child
		}
		return doc, nil
	default:
		return nil, &MalformedError{Path: at, Reason: fmt.Sprintf("unsupported JSON value %T", v)}
	}
}

// ToJSON renders a document as deterministic JSON: object keys in
// canonical label order, strings NFC-normalized, no HTML escaping.
//
// The rendering is lossy for a node that carries both a scalar and
// children: the object form wins and the scalar is dropped. Callers that
// need to report the loss use ToJSONReport.
func ToJSON(d *Document) ([]byte, error) {
	data, _, err := ToJSONReport(d)
	return data, err
}

// ToJSONReport is ToJSON plus the list of paths whose scalars were
// dropped because the node also had children.
func ToJSONReport(d *Document) ([]byte, []Path, error) {
	var buf bytes.Buffer
	var dropped []Path
	if err := writeJSON(&buf, d, Path{}, &dropped); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), dropped, nil
}

func writeJSON(buf *bytes.Buffer, d *Document, at Path, dropped *[]Path) error {
	if d == nil {
		buf.WriteString("{}")
		return nil
	}
	if len(d.children) == 0 {
		if !d.hasScalar {
			buf.WriteString("{}")
			return nil
		}
		return writeJSONString(buf, d.scalar)
	}

	if d.hasScalar {
		*dropped = append(*dropped, at)
	}

	buf.WriteByte('{')
	for i, label := range d.Labels() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, label); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSON(buf, d.children[label], at.Child(label), dropped); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeJSONString writes an NFC-normalized JSON string without HTML
// escaping, so < > & survive the round trip through external sources.
func writeJSONString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}

	out := tmp.Bytes()
	// json.Encoder adds a trailing newline, remove it
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	buf.Write(out)
	return nil
}
