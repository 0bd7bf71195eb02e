package source

import (
	"context"
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

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("data")

	fk, err := mem.Create(ctx, mustDoc(t, `{"name":"Alice"}`))
	require.NoError(t, err)
	assert.Equal(t, "data-1", fk)

	doc, err := mem.Read(ctx, fk)
	require.NoError(t, err)
	assert.True(t, document.Equal(mustDoc(t, `{"name":"Alice"}`), doc))

	newFK, err := mem.Update(ctx, fk, mustDoc(t, `{"name":"Bob"}`))
	require.NoError(t, err)
	assert.Equal(t, fk, newFK, "memory sources never rename keys")

	doc, err = mem.Read(ctx, fk)
	require.NoError(t, err)
	assert.True(t, document.Equal(mustDoc(t, `{"name":"Bob"}`), doc))

	require.NoError(t, mem.Delete(ctx, fk))
	_, err = mem.Read(ctx, fk)
	assert.True(t, IsKeyGone(err))
}

func TestMemoryAssignsSequentialKeys(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("test-results")

	fk1, err := mem.Create(ctx, document.New())
	require.NoError(t, err)
	fk2, err := mem.Create(ctx, document.New())
	require.NoError(t, err)

	assert.Equal(t, "test-results-1", fk1)
	assert.Equal(t, "test-results-2", fk2)
}

func TestMemoryKeyGone(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("data")

	_, err := mem.Read(ctx, "missing")
	assert.True(t, IsKeyGone(err))

	_, err = mem.Update(ctx, "missing", document.New())
	assert.True(t, IsKeyGone(err))

	err = mem.Delete(ctx, "missing")
	assert.True(t, IsKeyGone(err))
}

func TestMemoryOffline(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("data")
	mem.Put("K1", mustDoc(t, `{"a":"1"}`))

	mem.SetOffline(true)
	_, err := mem.Read(ctx, "K1")
	require.Error(t, err)
	assert.False(t, IsKeyGone(err), "offline is unavailability, not key-gone")

	mem.SetOffline(false)
	_, err = mem.Read(ctx, "K1")
	assert.NoError(t, err)
}

func TestMemoryHonorsContext(t *testing.T) {
	mem := NewMemory("data")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mem.Read(ctx, "K1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryCopiesDocuments(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("data")

	doc := mustDoc(t, `{"a":"1"}`)
	mem.Put("K1", doc)
	require.NoError(t, doc.Set(document.Path{"a"}, "mutated"))

	stored, err := mem.Read(ctx, "K1")
	require.NoError(t, err)
	v, _ := stored.Get(document.Path{"a"})
	assert.Equal(t, "1", v)
}

func TestForeignKeyString(t *testing.T) {
	fk := ForeignKey{Entity: "customer", Source: "data", Key: "K1"}
	assert.Equal(t, "customer/data/K1", fk.String())
}
