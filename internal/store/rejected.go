package store

import (
	"context"

	"github.com/silky/retcon/internal/diff"
)

// RejectedPatch is one audit-log row as read back from the store.
type RejectedPatch struct {
	IK     InternalKey
	Source string
	Patch  diff.Patch
	Reason string
	TS     string
}

// RejectedPatches returns the audit-log rows for an internal key in
// insertion order. Used by operator tooling and tests.
func (s *Store) RejectedPatches(ctx context.Context, ik InternalKey) ([]RejectedPatch, error) {
	return queries{db: s.db}.RejectedPatches(ctx, ik)
}

// HasInternalKey reports whether an internal key row exists.
func (s *Store) HasInternalKey(ctx context.Context, ik InternalKey) (bool, error) {
	_, ok, err := queries{db: s.db}.EntityOf(ctx, ik)
	return ok, err
}

func (q queries) RejectedPatches(ctx context.Context, ik InternalKey) ([]RejectedPatch, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT ik, source, patch_json, reason, ts FROM rejected_patches
		WHERE ik = ?
		ORDER BY id ASC
	`, ik)
	if err != nil {
		return nil, classify("rejected patches", err)
	}
	defer rows.Close()

	var out []RejectedPatch
	for rows.Next() {
		var rp RejectedPatch
		var patchJSON string
		if err := rows.Scan(&rp.IK, &rp.Source, &patchJSON, &rp.Reason, &rp.TS); err != nil {
			return nil, classify("rejected patches: scan", err)
		}
		rp.Patch, err = unmarshalPatch(patchJSON)
		if err != nil {
			return nil, &Error{Op: "rejected patches", Err: err}
		}
		out = append(out, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("rejected patches: rows", err)
	}
	return out, nil
}
