// Package store provides SQLite-backed durable storage for Retcon's
// reconciliation state:
//
//   - Internal keys: kernel-assigned identifiers for logical entity
//     instances, scoped by entity name
//   - Foreign keys: the source-assigned keys bound to each internal key
//     (at most one per source; the reverse map is total)
//   - Initial documents: the last-agreed document per internal key, used
//     as the common ancestor in three-way merges
//   - Rejected patches: operations refused by merge policies, kept as an
//     audit trail with a reason tag
//
// # Access model
//
// The kernel opens one read-write transaction per reconciliation round
// (Store.Begin); everything inside commits atomically or rolls back
// together. Data-source adaptors receive only the read-only view
// (Store.Reader), so the write restriction is enforced at the interface
// boundary rather than by convention.
//
// SQLite has a single writer; a second round's transaction waits on the
// busy timeout and then retries, which is what serializes concurrent
// rounds touching the same internal key. WAL mode keeps the read-only
// token usable while a round's transaction is open.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Errors are classified transient vs. permanent (see Error); the kernel
// retries transient failures with bounded backoff.
package store
