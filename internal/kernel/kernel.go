// Package kernel orchestrates reconciliation rounds: it resolves
// internal keys, fetches every source's view, diffs against the common
// ancestor, merges under the entity's policy, propagates the agreed
// document back to every source, and persists the round's outcome in one
// store transaction.
//
// The diff/patch/merge core is pure and in-memory; the kernel suspends
// only on the store transaction, data-source calls, the final commit,
// and trace writes. Concurrent rounds on different internal keys run in
// parallel; rounds on the same key serialize on the store's write
// transaction.
package kernel

import (
	"context"
	"errors"
	"time"

	"github.com/silky/retcon/internal/config"
	"github.com/silky/retcon/internal/diff"
	"github.com/silky/retcon/internal/document"
	"github.com/silky/retcon/internal/merge"
	"github.com/silky/retcon/internal/source"
	"github.com/silky/retcon/internal/store"
)

// Kernel handles reconciliation requests against one store and one
// immutable configuration.
type Kernel struct {
	store   *store.Store
	cfg     *config.Config
	sources map[string]map[string]source.DataSource
	sink    TraceSink
	tokens  TokenGenerator
	retry   Retry
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithTraceSink routes round trace records to the given sink.
func WithTraceSink(sink TraceSink) Option {
	return func(k *Kernel) { k.sink = sink }
}

// WithTokenGenerator overrides the round token generator (for tests).
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(k *Kernel) { k.tokens = gen }
}

// WithRetry overrides the transient-store-error retry schedule.
func WithRetry(r Retry) Option {
	return func(k *Kernel) { k.retry = r }
}

// WithSource replaces the adaptor for one configured (entity, source)
// pair. Tests and the scenario harness inject memory sources this way.
func WithSource(entity, src string, ds source.DataSource) Option {
	return func(k *Kernel) {
		if k.sources[entity] == nil {
			k.sources[entity] = make(map[string]source.DataSource)
		}
		k.sources[entity][src] = ds
	}
}

// New builds a kernel over the store and configuration. Every
// configured (entity, source) pair gets a subprocess adaptor built from
// its command templates unless an option replaces it. Adaptors receive
// the store's read-only token.
func New(st *store.Store, cfg *config.Config, opts ...Option) *Kernel {
	k := &Kernel{
		store:   st,
		cfg:     cfg,
		sources: make(map[string]map[string]source.DataSource),
		sink:    discardSink{},
		tokens:  UUIDv7Generator{},
		retry:   DefaultRetry,
	}

	reader := st.Reader()
	for entityName, entity := range cfg.Entities {
		k.sources[entityName] = make(map[string]source.DataSource)
		for sourceName, src := range entity.Sources {
			k.sources[entityName][sourceName] = source.NewCommand(entityName, sourceName, src.Commands, reader)
		}
	}

	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Process executes one reconciliation request end-to-end. Transient
// store failures retry the whole round with exponential backoff; the
// returned record describes the last attempt.
func (k *Kernel) Process(ctx context.Context, req Request) (Record, error) {
	if req.Op == OpRead {
		return Record{}, configError("read requests go through Probe", nil)
	}
	if err := k.cfg.ValidatePair(req.FK.Entity, req.FK.Source); err != nil {
		return Record{}, configError("invalid request target", err)
	}

	var rec Record
	var err error
	for attempt := 1; ; attempt++ {
		rec, err = k.round(ctx, req)
		if err == nil {
			return rec, nil
		}
		if !store.IsTransient(err) || attempt >= k.retry.attempts() {
			break
		}
		k.retry.wait(attempt)
	}

	if store.IsTransient(err) {
		return rec, storeError("round failed after retries", err)
	}
	var ke *Error
	if errors.As(err, &ke) {
		return rec, err
	}
	var se *store.Error
	if errors.As(err, &se) {
		return rec, storeError("round failed", err)
	}
	return rec, internalError("round failed", err)
}

// round runs the eight-step reconciliation protocol once.
func (k *Kernel) round(ctx context.Context, req Request) (Record, error) {
	rec := Record{
		Token:   k.tokens.Generate(),
		Request: req.String(),
		Outcome: OutcomeRolledBack,
	}
	defer func() { k.sink.Trace(rec) }()

	entity := k.cfg.Entities[req.FK.Entity]
	names := entity.SourceNames()

	tx, err := k.store.Begin(ctx)
	if err != nil {
		rec.Err = err.Error()
		return rec, err
	}
	defer tx.Rollback()

	// Step 1: resolve or allocate the internal key.
	ik, known, err := tx.ResolveInternalKey(ctx, req.FK.Entity, req.FK.Source, req.FK.Key)
	if err != nil {
		rec.Err = err.Error()
		return rec, err
	}
	if !known {
		if req.Op == OpDelete {
			// Deleting an unknown key commits a no-op.
			if err := tx.Commit(); err != nil {
				rec.Err = err.Error()
				return rec, err
			}
			rec.Outcome = OutcomeNoop
			return rec, nil
		}
		ik, err = tx.AllocateInternalKey(ctx, req.FK.Entity)
		if err != nil {
			rec.Err = err.Error()
			return rec, err
		}
		if err := tx.RecordForeignKey(ctx, ik, req.FK.Entity, req.FK.Source, req.FK.Key); err != nil {
			rec.Err = err.Error()
			return rec, err
		}
	}
	rec.IK = int64(ik)

	fks, err := tx.LookupForeignKeys(ctx, ik)
	if err != nil {
		rec.Err = err.Error()
		return rec, err
	}

	// Step 2: fetch all views in parallel; consume in source order.
	views := k.fetchViews(ctx, entity, names, fks)
	rec.Sources = make([]SourceTrace, len(names))
	var fetchedDocs []*document.Document
	for i, name := range names {
		rec.Sources[i] = SourceTrace{Source: name, Status: views[i].status, Reason: views[i].reason}
		if views[i].status == StatusOK {
			fetchedDocs = append(fetchedDocs, views[i].doc)
		}
	}

	// Step 3: load or compute the common ancestor.
	initial, hasInitial, err := tx.ReadInitialDocument(ctx, ik)
	if err != nil {
		rec.Err = err.Error()
		return rec, err
	}
	if !hasInitial {
		initial = diff.InitialDocument(fetchedDocs)
	}
	rec.InitialSize = len(initial.Paths())

	// Step 4: per-source diff against the ancestor.
	var patches []merge.SourcePatch
	for i, name := range names {
		if views[i].status != StatusOK {
			continue
		}
		p := diff.Diff(initial, views[i].doc)
		rec.Sources[i].PatchSize = len(p)
		patches = append(patches, merge.SourcePatch{Source: name, Patch: p})
	}

	// Step 5: merge under the entity's policy. Delete short-circuits by
	// deleting everything the ancestor holds.
	var merged diff.Patch
	var rejected []merge.Rejection
	if req.Op == OpDelete {
		merged = diff.Diff(initial, document.New())
	} else {
		merged, rejected = entity.Policy.Merge(initial, patches)
	}
	rec.MergedSize = len(merged)

	// Step 6: the new agreed document.
	newInitial, err := diff.Apply(initial, merged)
	if err != nil {
		mergeErr := &Error{Code: ErrCodeMerge, Message: "merged patch does not apply", Err: err}
		rec.Err = mergeErr.Error()
		return rec, mergeErr
	}

	if _, dropped, err := document.ToJSONReport(newInitial); err == nil {
		for _, p := range dropped {
			rec.LossyPaths = append(rec.LossyPaths, p.String())
		}
	}

	// Step 7: propagate to every source. Adaptor failures are recorded
	// but do not abort the round; the committed initial lets later
	// rounds retry convergence.
	if err := k.propagate(ctx, tx, entity, names, fks, ik, newInitial, rec.Sources); err != nil {
		rec.Err = err.Error()
		return rec, err
	}

	// Step 8: persist the new initial and the rejected patches.
	if newInitial.IsEmpty() {
		err = tx.DeleteInitialDocument(ctx, ik)
	} else {
		err = tx.WriteInitialDocument(ctx, ik, newInitial)
	}
	if err != nil {
		rec.Err = err.Error()
		return rec, err
	}

	for _, r := range rejected {
		if err := tx.RecordRejectedPatch(ctx, ik, r.Source, r.Patch, r.Reason); err != nil {
			rec.Err = err.Error()
			return rec, err
		}
		if rec.Rejected == nil {
			rec.Rejected = make(map[string]int)
		}
		rec.Rejected[r.Source] = len(r.Patch)
	}

	if newInitial.IsEmpty() {
		remaining, err := tx.LookupForeignKeys(ctx, ik)
		if err != nil {
			rec.Err = err.Error()
			return rec, err
		}
		if len(remaining) == 0 {
			if err := tx.DeleteInternalKey(ctx, ik); err != nil {
				rec.Err = err.Error()
				return rec, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		rec.Err = err.Error()
		return rec, err
	}
	rec.Outcome = OutcomeCommitted
	return rec, nil
}

// view is one source's fetch result.
type view struct {
	status SourceStatus
	reason string
	doc    *document.Document
}

// fetchViews reads every bound source concurrently, each under its
// configured deadline. Results come back indexed by the caller's source
// order, so downstream steps are independent of arrival order.
func (k *Kernel) fetchViews(ctx context.Context, entity *config.Entity, names []string, fks map[string]string) []view {
	views := make([]view, len(names))
	type result struct {
		idx int
		doc *document.Document
		err error
	}

	ch := make(chan result)
	pending := 0
	for i, name := range names {
		fk, bound := fks[name]
		if !bound {
			views[i] = view{status: StatusUnknown}
			continue
		}
		pending++
		go func(idx int, name, fk string) {
			callCtx, cancel := context.WithTimeout(ctx, k.timeout(entity, name))
			defer cancel()
			doc, err := k.sources[entity.Name][name].Read(callCtx, fk)
			ch <- result{idx: idx, doc: doc, err: err}
		}(i, name, fk)
	}

	for ; pending > 0; pending-- {
		r := <-ch
		if r.err != nil {
			views[r.idx] = view{status: StatusAbsent, reason: r.err.Error()}
			continue
		}
		views[r.idx] = view{status: StatusOK, doc: r.doc}
	}
	return views
}

// propagate writes the agreed document back to every source and keeps
// the foreign-key mapping in step with what the sources report.
func (k *Kernel) propagate(
	ctx context.Context,
	tx *store.Txn,
	entity *config.Entity,
	names []string,
	fks map[string]string,
	ik store.InternalKey,
	agreed *document.Document,
	traces []SourceTrace,
) error {
	for i, name := range names {
		ds := k.sources[entity.Name][name]
		fk, bound := fks[name]

		callCtx, cancel := context.WithTimeout(ctx, k.timeout(entity, name))
		switch {
		case !bound && !agreed.IsEmpty():
			newFK, err := ds.Create(callCtx, agreed)
			cancel()
			if err != nil {
				traces[i].Write = "create-failed"
				traces[i].WriteErr = err.Error()
				continue
			}
			if err := tx.RecordForeignKey(ctx, ik, entity.Name, name, newFK); err != nil {
				return err
			}
			traces[i].Write = "created"

		case !bound:
			// Source never knew the entity and the agreed document is
			// empty: nothing to do.
			cancel()

		case agreed.IsEmpty():
			err := ds.Delete(callCtx, fk)
			cancel()
			if err != nil && !source.IsKeyGone(err) {
				traces[i].Write = "delete-failed"
				traces[i].WriteErr = err.Error()
				continue
			}
			if err := tx.DeleteForeignKey(ctx, entity.Name, name, fk); err != nil {
				return err
			}
			traces[i].Write = "deleted"

		default:
			newFK, err := ds.Update(callCtx, fk, agreed)
			if source.IsKeyGone(err) {
				// The record vanished under us: recreate it so the
				// sources converge.
				newFK, err = ds.Create(callCtx, agreed)
			}
			cancel()
			if err != nil {
				traces[i].Write = "update-failed"
				traces[i].WriteErr = err.Error()
				continue
			}
			if newFK != fk {
				if err := tx.DeleteForeignKey(ctx, entity.Name, name, fk); err != nil {
					return err
				}
				if err := tx.RecordForeignKey(ctx, ik, entity.Name, name, newFK); err != nil {
					return err
				}
			}
			traces[i].Write = "updated"
		}
	}
	return nil
}

// timeout returns the per-source call deadline.
func (k *Kernel) timeout(entity *config.Entity, name string) time.Duration {
	if src, ok := entity.Sources[name]; ok && src.Timeout > 0 {
		return src.Timeout
	}
	return config.DefaultSourceTimeout
}

// Probe is the side-effect-free read request: it reports every source's
// current view and the stored initial document without opening a write
// transaction. Probes use the same read-only token adaptors get.
func (k *Kernel) Probe(ctx context.Context, fk source.ForeignKey) (*ProbeResult, error) {
	if err := k.cfg.ValidatePair(fk.Entity, fk.Source); err != nil {
		return nil, configError("invalid request target", err)
	}

	reader := k.store.Reader()
	entity := k.cfg.Entities[fk.Entity]

	out := &ProbeResult{}
	ik, known, err := reader.ResolveInternalKey(ctx, fk.Entity, fk.Source, fk.Key)
	if err != nil {
		return nil, storeError("probe: resolve", err)
	}
	if !known {
		return out, nil
	}
	out.Known = true
	out.IK = ik

	out.Initial, out.HasInitial, err = reader.ReadInitialDocument(ctx, ik)
	if err != nil {
		return nil, storeError("probe: read initial", err)
	}

	fks, err := reader.LookupForeignKeys(ctx, ik)
	if err != nil {
		return nil, storeError("probe: lookup foreign keys", err)
	}

	names := entity.SourceNames()
	views := k.fetchViews(ctx, entity, names, fks)
	for i, name := range names {
		out.Views = append(out.Views, ProbeView{
			Source: name,
			FK:     fks[name],
			Status: views[i].status,
			Reason: views[i].reason,
			Doc:    views[i].doc,
		})
	}
	return out, nil
}

// ProbeView is one source's slice of a probe result.
type ProbeView struct {
	Source string
	FK     string
	Status SourceStatus
	Reason string
	Doc    *document.Document
}

// ProbeResult is what the read request reports.
type ProbeResult struct {
	Known      bool
	IK         store.InternalKey
	Initial    *document.Document
	HasInitial bool
	Views      []ProbeView
}
