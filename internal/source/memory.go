package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/silky/retcon/internal/document"
)

// Memory is an in-process data source backed by a map. It is used by
// tests and the scenario harness, and doubles as the reference
// implementation of the adaptor contract.
//
// Thread-safe: a round fetches sources in parallel.
type Memory struct {
	source string

	mu      sync.Mutex
	docs    map[string]*document.Document
	nextKey int
	offline bool
}

var _ DataSource = (*Memory)(nil)

// NewMemory creates an empty in-memory source. The source name is used
// for error reporting and assigned-key prefixes.
func NewMemory(source string) *Memory {
	return &Memory{source: source, docs: make(map[string]*document.Document)}
}

// SetOffline makes every subsequent call fail until switched back,
// simulating an unavailable source.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Put seeds or overwrites a document under a chosen foreign key.
func (m *Memory) Put(fk string, doc *document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[fk] = doc.Clone()
}

// Document returns the stored view under a foreign key, if any.
func (m *Memory) Document(fk string) (*document.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[fk]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Keys returns the number of stored records.
func (m *Memory) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Create implements DataSource. Assigned keys are deterministic:
// "<source>-1", "<source>-2", ...
func (m *Memory) Create(ctx context.Context, doc *document.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "create"); err != nil {
		return "", err
	}

	m.nextKey++
	fk := fmt.Sprintf("%s-%d", m.source, m.nextKey)
	m.docs[fk] = doc.Clone()
	return fk, nil
}

// Read implements DataSource.
func (m *Memory) Read(ctx context.Context, fk string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "read"); err != nil {
		return nil, err
	}

	doc, ok := m.docs[fk]
	if !ok {
		return nil, &Error{Source: m.source, Op: "read", Err: ErrKeyGone}
	}
	return doc.Clone(), nil
}

// Update implements DataSource. Memory sources never rename keys.
func (m *Memory) Update(ctx context.Context, fk string, doc *document.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "update"); err != nil {
		return "", err
	}

	if _, ok := m.docs[fk]; !ok {
		return "", &Error{Source: m.source, Op: "update", Err: ErrKeyGone}
	}
	m.docs[fk] = doc.Clone()
	return fk, nil
}

// Delete implements DataSource. Deleting a missing key reports
// ErrKeyGone.
func (m *Memory) Delete(ctx context.Context, fk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "delete"); err != nil {
		return err
	}

	if _, ok := m.docs[fk]; !ok {
		return &Error{Source: m.source, Op: "delete", Err: ErrKeyGone}
	}
	delete(m.docs, fk)
	return nil
}

// check enforces the offline switch and the caller's deadline.
// Callers hold the mutex.
func (m *Memory) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Source: m.source, Op: op, Err: err}
	}
	if m.offline {
		return &Error{Source: m.source, Op: op, Err: fmt.Errorf("source offline")}
	}
	return nil
}
