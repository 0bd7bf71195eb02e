package diff

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/silky/retcon/internal/document"
)

// Golden files pin the wire forms: stored patches and rendered
// documents must never drift, or old audit rows stop parsing.

func TestGoldenCanonicalPatch(t *testing.T) {
	a := mustDoc(t, `{"name":"Alice","age":"30"}`)
	b := mustDoc(t, `{"name":"Alicia","address":{"city":"Berlin"}}`)

	data, err := json.Marshal(Diff(a, b))
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "canonical_patch", data)
}

func TestGoldenDocumentJSON(t *testing.T) {
	doc := mustDoc(t, `{"zeta":"1","alpha":{"b":"2","a":"3"}}`)

	data, err := document.ToJSON(doc)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "document_json", data)
}
