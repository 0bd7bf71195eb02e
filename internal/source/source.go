// Package source defines the data-source adaptor contract: CRUD of a
// document identified by a source-local foreign key.
//
// Adaptors are constructed per (entity, source) pair and are handed the
// store's read-only token; they cannot mutate shared state. Errors are
// opaque to the kernel except for the ErrKeyGone sentinel, which marks a
// key the source says no longer exists (as opposed to the source being
// unavailable for the round).
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/silky/retcon/internal/document"
)

// ForeignKey is a source-assigned opaque identifier for one record,
// tagged with the entity and source it belongs to.
type ForeignKey struct {
	Entity string
	Source string
	Key    string
}

// String renders the foreign key for traces and error messages.
func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s/%s/%s", fk.Entity, fk.Source, fk.Key)
}

// ErrKeyGone reports that the source says the foreign key no longer
// exists. Every other failure means the source is unavailable for the
// round.
var ErrKeyGone = errors.New("foreign key gone from source")

// IsKeyGone reports whether an adaptor error means the key is gone
// rather than the source being unavailable.
func IsKeyGone(err error) bool {
	return errors.Is(err, ErrKeyGone)
}

// Error wraps an adaptor failure with its source and operation.
type Error struct {
	Source string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DataSource is the adaptor for one (entity, source) pair.
//
// Calls carry the per-source deadline on the context; a call that runs
// past it fails. A failed Read marks the source absent for the round; a
// failed write is recorded in the source's trace line.
type DataSource interface {
	// Create stores a new document and returns the foreign key the
	// source assigned to it.
	Create(ctx context.Context, doc *document.Document) (string, error)

	// Read returns the source's current view of the document.
	Read(ctx context.Context, fk string) (*document.Document, error)

	// Update overwrites the document. The returned foreign key replaces
	// fk if the source renamed the record; it equals fk otherwise.
	Update(ctx context.Context, fk string, doc *document.Document) (string, error)

	// Delete removes the document from the source.
	Delete(ctx context.Context, fk string) error
}
