package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silky/retcon/internal/document"
)

func mustDoc(t *testing.T, json string) *document.Document {
	t.Helper()
	doc, err := document.FromJSON([]byte(json))
	require.NoError(t, err)
	return doc
}

func mustApply(t *testing.T, d *document.Document, p Patch) *document.Document {
	t.Helper()
	out, err := Apply(d, p)
	require.NoError(t, err)
	return out
}

var diffCorpus = []string{
	`{}`,
	`{"name":"Alice"}`,
	`{"name":"Alice","age":"30"}`,
	`{"name":"Bob","address":{"city":"Berlin","zip":"10115"}}`,
	`{"address":{"city":"Paris"},"tags":{"a":"1","b":"2"}}`,
	`"scalar"`,
}

func TestDiffSelfIsEmpty(t *testing.T) {
	for _, input := range diffCorpus {
		doc := mustDoc(t, input)
		p := Diff(doc, doc)
		assert.True(t, p.IsEmpty(), "diff(d,d) for %s", input)
		assert.True(t, document.Equal(doc, mustApply(t, doc, p)))
	}
}

func TestApplyDiffReachesTarget(t *testing.T) {
	for _, a := range diffCorpus {
		for _, b := range diffCorpus {
			docA := mustDoc(t, a)
			docB := mustDoc(t, b)
			got := mustApply(t, docA, Diff(docA, docB))
			assert.True(t, document.Equal(docB, got), "apply(%s, diff) != %s", a, b)
		}
	}
}

func TestDiffComposition(t *testing.T) {
	for _, a := range diffCorpus {
		for _, b := range diffCorpus {
			for _, c := range diffCorpus {
				docA := mustDoc(t, a)
				docB := mustDoc(t, b)
				docC := mustDoc(t, c)

				composed := Diff(docA, docB).Concat(Diff(docB, docC)).Canonical()
				got := mustApply(t, docA, composed)
				assert.True(t, document.Equal(docC, got),
					"composed diff %s -> %s -> %s", a, b, c)
			}
		}
	}
}

func TestDiffEmitsExpectedOps(t *testing.T) {
	a := mustDoc(t, `{"name":"Alice","age":"30"}`)
	b := mustDoc(t, `{"name":"Alicia","city":"Berlin"}`)

	p := Diff(a, b)
	require.Len(t, p, 3)
	assert.Equal(t, Change{Kind: Delete, Path: document.Path{"age"}}, p[0])
	assert.Equal(t, Change{Kind: Insert, Path: document.Path{"city"}, Value: "Berlin"}, p[1])
	assert.Equal(t, Change{Kind: Insert, Path: document.Path{"name"}, Value: "Alicia"}, p[2])
}

func TestApplyDeleteMissingPathIsNoop(t *testing.T) {
	doc := mustDoc(t, `{"a":"1"}`)
	out := mustApply(t, doc, Patch{{Kind: Delete, Path: document.Path{"missing", "deep"}}})
	assert.True(t, document.Equal(doc, out))
}

func TestApplyInsertCreatesIntermediates(t *testing.T) {
	out := mustApply(t, document.New(), Patch{
		{Kind: Insert, Path: document.Path{"a", "b", "c"}, Value: "v"},
	})
	v, ok := out.Get(document.Path{"a", "b", "c"})
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestApplyPrunesEmptyNodes(t *testing.T) {
	doc := mustDoc(t, `{"a":{"b":"1"}}`)
	out := mustApply(t, doc, Patch{{Kind: Delete, Path: document.Path{"a", "b"}}})
	assert.True(t, out.IsEmpty())
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	doc := mustDoc(t, `{"a":"1"}`)
	_ = mustApply(t, doc, Patch{{Kind: Insert, Path: document.Path{"a"}, Value: "2"}})
	v, _ := doc.Get(document.Path{"a"})
	assert.Equal(t, "1", v)
}

func TestApplyRejectsMalformedOps(t *testing.T) {
	_, err := Apply(document.New(), Patch{{Kind: Insert, Path: document.Path{""}, Value: "v"}})
	assert.Error(t, err)

	_, err = Apply(document.New(), Patch{{Kind: Kind("replace"), Path: document.Path{"a"}}})
	assert.Error(t, err)
}

func TestCanonicalLastOpWins(t *testing.T) {
	p := Patch{
		{Kind: Insert, Path: document.Path{"a"}, Value: "1"},
		{Kind: Delete, Path: document.Path{"a"}},
		{Kind: Insert, Path: document.Path{"a"}, Value: "2"},
	}
	canonical := p.Canonical()
	require.Len(t, canonical, 1)
	assert.Equal(t, Change{Kind: Insert, Path: document.Path{"a"}, Value: "2"}, canonical[0])
}

func TestCanonicalDeleteSupersedesInserts(t *testing.T) {
	p := Patch{
		{Kind: Insert, Path: document.Path{"a"}, Value: "1"},
		{Kind: Insert, Path: document.Path{"a"}, Value: "2"},
		{Kind: Delete, Path: document.Path{"a"}},
	}
	canonical := p.Canonical()
	require.Len(t, canonical, 1)
	assert.Equal(t, Delete, canonical[0].Kind)
}

func TestCanonicalSortsByPathThenKind(t *testing.T) {
	p := Patch{
		{Kind: Insert, Path: document.Path{"b"}, Value: "2"},
		{Kind: Delete, Path: document.Path{"a", "x"}},
		{Kind: Insert, Path: document.Path{"a"}, Value: "1"},
	}
	canonical := p.Canonical()
	require.Len(t, canonical, 3)
	assert.Equal(t, document.Path{"a"}, canonical[0].Path)
	assert.Equal(t, document.Path{"a", "x"}, canonical[1].Path)
	assert.Equal(t, document.Path{"b"}, canonical[2].Path)
}

func TestCanonicalIsIdempotent(t *testing.T) {
	p := Patch{
		{Kind: Insert, Path: document.Path{"b"}, Value: "2"},
		{Kind: Insert, Path: document.Path{"a"}, Value: "1"},
		{Kind: Delete, Path: document.Path{"b"}},
		{Kind: Insert, Path: document.Path{"a"}, Value: "3"},
	}
	once := p.Canonical()
	twice := once.Canonical()
	assert.Equal(t, once, twice)
}

func TestInitialDocumentAgreement(t *testing.T) {
	docs := []*document.Document{
		mustDoc(t, `{"name":"Alice","age":"30","city":"Berlin"}`),
		mustDoc(t, `{"name":"Alice","age":"31","city":"Berlin"}`),
		mustDoc(t, `{"name":"Alice","city":"Berlin","extra":"x"}`),
	}

	agreed := InitialDocument(docs)
	want := mustDoc(t, `{"name":"Alice","city":"Berlin"}`)
	assert.True(t, document.Equal(want, agreed))
}

func TestInitialDocumentEmptyInput(t *testing.T) {
	assert.True(t, InitialDocument(nil).IsEmpty())
}

func TestInitialDocumentSingleInput(t *testing.T) {
	doc := mustDoc(t, `{"a":"1","nested":{"b":"2"}}`)
	assert.True(t, document.Equal(doc, InitialDocument([]*document.Document{doc})))
}

func TestInitialDocumentIdempotentUnderDuplication(t *testing.T) {
	docs := []*document.Document{
		mustDoc(t, `{"a":"1","b":"2"}`),
		mustDoc(t, `{"a":"1","b":"3"}`),
	}
	once := InitialDocument(docs)
	doubled := InitialDocument(append(append([]*document.Document{}, docs...), docs...))
	assert.True(t, document.Equal(once, doubled))
}

func TestPatchJSONRoundTrip(t *testing.T) {
	p := Patch{
		{Kind: Delete, Path: document.Path{"age"}},
		{Kind: Insert, Path: document.Path{"name"}, Value: "Alice"},
		{Kind: Insert, Path: document.Path{}, Value: "root"},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back Patch
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p.Canonical(), back.Canonical())
}

func TestSortedPaths(t *testing.T) {
	p := Patch{
		{Kind: Insert, Path: document.Path{"b"}, Value: "2"},
		{Kind: Delete, Path: document.Path{"a"}},
		{Kind: Insert, Path: document.Path{"a"}, Value: "1"},
	}
	assert.Equal(t, []document.Path{{"a"}, {"b"}}, p.SortedPaths())
}

func TestTouches(t *testing.T) {
	p := Patch{{Kind: Insert, Path: document.Path{"a", "b"}, Value: "1"}}
	assert.True(t, p.Touches(document.Path{"a", "b"}))
	assert.False(t, p.Touches(document.Path{"a"}))
}
