package store

import (
	"context"
	"database/sql"

	"github.com/silky/retcon/internal/diff"
	"github.com/silky/retcon/internal/document"
)

// Reader is the read-only store token. Data-source adaptors receive
// exactly this interface; the write operations live only on ReadWriter,
// so the restriction is structural.
type Reader interface {
	// ResolveInternalKey looks up the internal key bound to a foreign
	// key, if one exists.
	ResolveInternalKey(ctx context.Context, entity, source, fk string) (InternalKey, bool, error)

	// LookupForeignKeys returns the source → foreign key map for an
	// internal key.
	LookupForeignKeys(ctx context.Context, ik InternalKey) (map[string]string, error)

	// ReadInitialDocument returns the stored initial document for an
	// internal key, if one has been recorded.
	ReadInitialDocument(ctx context.Context, ik InternalKey) (*document.Document, bool, error)
}

// ReadWriter is the read-write store token used by the kernel. It exists
// only for the duration of one transaction.
type ReadWriter interface {
	Reader

	// AllocateInternalKey creates a fresh internal key for an entity.
	AllocateInternalKey(ctx context.Context, entity string) (InternalKey, error)

	// RecordForeignKey binds a foreign key to an internal key. Fails if
	// the foreign key is already bound to a different internal key.
	RecordForeignKey(ctx context.Context, ik InternalKey, entity, source, fk string) error

	// DeleteForeignKey drops one foreign key binding.
	DeleteForeignKey(ctx context.Context, entity, source, fk string) error

	// DeleteInternalKey removes an internal key; foreign key rows and
	// the initial document cascade.
	DeleteInternalKey(ctx context.Context, ik InternalKey) error

	// WriteInitialDocument records the new agreed document for an
	// internal key, replacing any previous one.
	WriteInitialDocument(ctx context.Context, ik InternalKey, doc *document.Document) error

	// DeleteInitialDocument removes the stored initial document.
	DeleteInitialDocument(ctx context.Context, ik InternalKey) error

	// RecordRejectedPatch appends a rejected patch with its source and
	// reason tag to the audit log.
	RecordRejectedPatch(ctx context.Context, ik InternalKey, source string, p diff.Patch, reason string) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so read queries are
// shared between the read-only view and the transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements the read operations over any dbtx.
type queries struct {
	db dbtx
}

// readView is the Reader handed to adaptors.
type readView struct {
	queries
}

var _ Reader = (*readView)(nil)

// Txn is one read-write transaction. Commit or Rollback must be called
// exactly once; Rollback after Commit is a no-op.
type Txn struct {
	queries
	tx *sql.Tx
}

var _ ReadWriter = (*Txn)(nil)

// Commit makes the round's writes durable.
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Rollback abandons the round's writes. Safe to defer: rolling back a
// committed transaction returns nil.
func (t *Txn) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || err == sql.ErrTxDone {
		return nil
	}
	return classify("rollback", err)
}
