package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/silky/retcon/internal/document"
)

// ResolveInternalKey looks up the internal key bound to a foreign key.
func (q queries) ResolveInternalKey(ctx context.Context, entity, source, fk string) (InternalKey, bool, error) {
	var ik InternalKey
	err := q.db.QueryRowContext(ctx, `
		SELECT ik FROM foreign_keys
		WHERE entity = ? AND source = ? AND fk = ?
	`, entity, source, fk).Scan(&ik)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("resolve internal key", err)
	}
	return ik, true, nil
}

// LookupForeignKeys returns the source → foreign key map for an internal
// key. An unknown internal key yields an empty map.
func (q queries) LookupForeignKeys(ctx context.Context, ik InternalKey) (map[string]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT source, fk FROM foreign_keys
		WHERE ik = ?
		ORDER BY source ASC
	`, ik)
	if err != nil {
		return nil, classify("lookup foreign keys", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var source, fk string
		if err := rows.Scan(&source, &fk); err != nil {
			return nil, classify("lookup foreign keys: scan", err)
		}
		out[source] = fk
	}
	if err := rows.Err(); err != nil {
		return nil, classify("lookup foreign keys: rows", err)
	}
	return out, nil
}

// ReadInitialDocument returns the stored initial document for an
// internal key, if one has been recorded.
func (q queries) ReadInitialDocument(ctx context.Context, ik InternalKey) (*document.Document, bool, error) {
	var docJSON string
	err := q.db.QueryRowContext(ctx, `
		SELECT doc_json FROM initial_documents WHERE ik = ?
	`, ik).Scan(&docJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("read initial document", err)
	}

	doc, err := unmarshalDocument(docJSON)
	if err != nil {
		return nil, false, &Error{Op: "read initial document", Err: err}
	}
	return doc, true, nil
}

// EntityOf returns the entity name an internal key was allocated under.
func (q queries) EntityOf(ctx context.Context, ik InternalKey) (string, bool, error) {
	var entity string
	err := q.db.QueryRowContext(ctx, `
		SELECT entity FROM internal_keys WHERE ik = ?
	`, ik).Scan(&entity)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("entity of internal key", err)
	}
	return entity, true, nil
}
