package store

import (
	"context"
	"fmt"

	"github.com/silky/retcon/internal/diff"
	"github.com/silky/retcon/internal/document"
)

// AllocateInternalKey creates a fresh internal key for an entity.
func (t *Txn) AllocateInternalKey(ctx context.Context, entity string) (InternalKey, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO internal_keys (entity) VALUES (?)
	`, entity)
	if err != nil {
		return 0, classify("allocate internal key", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, classify("allocate internal key: last insert id", err)
	}
	return InternalKey(id), nil
}

// RecordForeignKey binds a foreign key to an internal key.
//
// Recording the same (ik, entity, source, fk) row twice is idempotent.
// Binding a foreign key that already belongs to a different internal
// key, or a second foreign key for a source that already has one, is an
// error (the UNIQUE constraints enforce the store invariants).
func (t *Txn) RecordForeignKey(ctx context.Context, ik InternalKey, entity, source, fk string) error {
	existing, ok, err := t.ResolveInternalKey(ctx, entity, source, fk)
	if err != nil {
		return err
	}
	if ok {
		if existing == ik {
			return nil
		}
		return &Error{
			Op:  "record foreign key",
			Err: fmt.Errorf("foreign key (%s, %s, %s) already bound to internal key %d", entity, source, fk, existing),
		}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO foreign_keys (ik, entity, source, fk) VALUES (?, ?, ?, ?)
	`, ik, entity, source, fk)
	if err != nil {
		return classify("record foreign key", err)
	}
	return nil
}

// DeleteForeignKey drops one foreign key binding. Deleting an unknown
// binding is a no-op.
func (t *Txn) DeleteForeignKey(ctx context.Context, entity, source, fk string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM foreign_keys
		WHERE entity = ? AND source = ? AND fk = ?
	`, entity, source, fk)
	if err != nil {
		return classify("delete foreign key", err)
	}
	return nil
}

// DeleteInternalKey removes an internal key. Foreign key rows and the
// initial document row cascade.
func (t *Txn) DeleteInternalKey(ctx context.Context, ik InternalKey) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM internal_keys WHERE ik = ?
	`, ik)
	if err != nil {
		return classify("delete internal key", err)
	}
	return nil
}

// WriteInitialDocument records the new agreed document for an internal
// key, replacing any previous one.
func (t *Txn) WriteInitialDocument(ctx context.Context, ik InternalKey, doc *document.Document) error {
	docJSON, err := marshalDocument(doc)
	if err != nil {
		return &Error{Op: "write initial document", Err: err}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO initial_documents (ik, doc_json) VALUES (?, ?)
		ON CONFLICT(ik) DO UPDATE SET doc_json = excluded.doc_json
	`, ik, docJSON)
	if err != nil {
		return classify("write initial document", err)
	}
	return nil
}

// DeleteInitialDocument removes the stored initial document. Deleting a
// missing row is a no-op.
func (t *Txn) DeleteInitialDocument(ctx context.Context, ik InternalKey) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM initial_documents WHERE ik = ?
	`, ik)
	if err != nil {
		return classify("delete initial document", err)
	}
	return nil
}

// RecordRejectedPatch appends a rejected patch to the audit log.
func (t *Txn) RecordRejectedPatch(ctx context.Context, ik InternalKey, source string, p diff.Patch, reason string) error {
	patchJSON, err := marshalPatch(p)
	if err != nil {
		return &Error{Op: "record rejected patch", Err: err}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO rejected_patches (ik, source, patch_json, reason)
		VALUES (?, ?, ?, ?)
	`, ik, source, patchJSON, reason)
	if err != nil {
		return classify("record rejected patch", err)
	}
	return nil
}
