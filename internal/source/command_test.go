package source

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silky/retcon/internal/document"
	"github.com/silky/retcon/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestCommandCreateReturnsForeignKey(t *testing.T) {
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Create: "echo K42"}, st.Reader())

	fk, err := cmd.Create(context.Background(), document.New())
	require.NoError(t, err)
	assert.Equal(t, "K42", fk)
}

func TestCommandCreateRejectsEmptyOutput(t *testing.T) {
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Create: "true"}, st.Reader())

	_, err := cmd.Create(context.Background(), document.New())
	require.Error(t, err)

	var serr *Error
	assert.ErrorAs(t, err, &serr)
}

func TestCommandReadParsesDocument(t *testing.T) {
	docFile := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(docFile, []byte(`{"name":"Alice"}`), 0o644))

	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Read: "cat " + docFile}, st.Reader())

	doc, err := cmd.Read(context.Background(), "K1")
	require.NoError(t, err)
	v, ok := doc.Get(document.Path{"name"})
	assert.True(t, ok)
	assert.Equal(t, "Alice", v)
}

func TestCommandReadRejectsMalformedOutput(t *testing.T) {
	script := writeScript(t, "read.sh", `echo '[1,2,3]'`)
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Read: script + " %fk"}, st.Reader())

	_, err := cmd.Read(context.Background(), "K1")
	require.Error(t, err)
	var serr *Error
	assert.ErrorAs(t, err, &serr)
}

func TestCommandSubstitutesForeignKey(t *testing.T) {
	script := writeScript(t, "echo-fk.sh", `echo "$1"`)
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Update: script + " %fk"}, st.Reader())

	newFK, err := cmd.Update(context.Background(), "K7", document.New())
	require.NoError(t, err)
	// update echoes its argument: a non-empty stdout line renames the key
	assert.Equal(t, "K7", newFK)
}

func TestCommandUpdateKeepsKeyOnSilentExit(t *testing.T) {
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Update: "true"}, st.Reader())

	newFK, err := cmd.Update(context.Background(), "K7", document.New())
	require.NoError(t, err)
	assert.Equal(t, "K7", newFK)
}

func TestCommandStdinCarriesDocument(t *testing.T) {
	script := writeScript(t, "stdin.sh", `cat`)
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Update: script}, st.Reader())

	doc, err := document.FromJSON([]byte(`{"name":"Alice"}`))
	require.NoError(t, err)

	// the script echoes stdin, which update reads back as a new key
	newFK, err := cmd.Update(context.Background(), "K1", doc)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice"}`, newFK)
}

func TestCommandExitStatusTwoMeansKeyGone(t *testing.T) {
	script := writeScript(t, "gone.sh", `exit 2`)
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Delete: script + " %fk"}, st.Reader())

	err := cmd.Delete(context.Background(), "K1")
	require.Error(t, err)
	assert.True(t, IsKeyGone(err))
}

func TestCommandNonZeroExitIsOpaqueError(t *testing.T) {
	script := writeScript(t, "fail.sh", `echo doom >&2; exit 1`)
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Delete: script}, st.Reader())

	err := cmd.Delete(context.Background(), "K1")
	require.Error(t, err)
	assert.False(t, IsKeyGone(err))
	assert.Contains(t, err.Error(), "doom")
}

func TestCommandMissingTemplate(t *testing.T) {
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{}, st.Reader())

	_, err := cmd.Read(context.Background(), "K1")
	require.Error(t, err)
}

func TestCommandHonorsDeadline(t *testing.T) {
	st := newTestStore(t)
	cmd := NewCommand("customer", "data", Commands{Delete: "sleep 2"}, st.Reader())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := cmd.Delete(ctx, "K1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandResolvesInternalKeyPlaceholder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	ik, err := tx.AllocateInternalKey(ctx, "customer")
	require.NoError(t, err)
	require.NoError(t, tx.RecordForeignKey(ctx, ik, "customer", "data", "K1"))
	require.NoError(t, tx.Commit())

	script := writeScript(t, "echo-ik.sh", `echo "$1"`)
	cmd := NewCommand("customer", "data", Commands{Update: script + " %ik"}, st.Reader())

	newFK, err := cmd.Update(ctx, "K1", document.New())
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(int64(ik), 10), newFK)
}

func TestCommandInternalKeyPlaceholderUnknownKey(t *testing.T) {
	st := newTestStore(t)
	script := writeScript(t, "echo-ik.sh", `echo "$1"`)
	cmd := NewCommand("customer", "data", Commands{Update: script + " %ik"}, st.Reader())

	_, err := cmd.Update(context.Background(), "unrecorded", document.New())
	require.Error(t, err)
}
