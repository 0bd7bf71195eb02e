package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/silky/retcon/internal/config"
	"github.com/silky/retcon/internal/document"
	"github.com/silky/retcon/internal/kernel"
	"github.com/silky/retcon/internal/merge"
	"github.com/silky/retcon/internal/source"
	"github.com/silky/retcon/internal/store"
)

// sourceTimeout bounds adaptor calls inside scenarios. Memory sources
// never block, so this only matters if a scenario hangs.
const sourceTimeout = 5 * time.Second

// Result is what running a scenario produces: the per-round trace
// records and any expectation failures.
type Result struct {
	Records  []kernel.Record
	Failures []string
}

// Failed reports whether any expectation failed.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// Run executes a scenario against memory sources and an in-memory
// store. A returned error means the scenario could not run at all;
// expectation mismatches land in Result.Failures.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	policy, err := merge.Parse(scenario.MergePolicy)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}

	entity := &config.Entity{
		Name:    scenario.Entity,
		Policy:  policy,
		Sources: make(map[string]*config.Source),
	}
	for _, name := range scenario.Sources {
		entity.Sources[name] = &config.Source{Name: name, Timeout: sourceTimeout}
	}
	cfg := &config.Config{
		Server:   config.Server{Database: ":memory:", LogLevel: "ERROR"},
		Entities: map[string]*config.Entity{scenario.Entity: entity},
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("scenario %q: open store: %w", scenario.Name, err)
	}
	defer st.Close()

	mems := make(map[string]*source.Memory, len(scenario.Sources))
	tokens := make([]string, len(scenario.Steps))
	for i := range scenario.Steps {
		tokens[i] = fmt.Sprintf("round-%d", i+1)
	}

	sink := &kernel.MemorySink{}
	opts := []kernel.Option{
		kernel.WithTraceSink(sink),
		kernel.WithTokenGenerator(kernel.NewFixedGenerator(tokens...)),
	}
	for _, name := range scenario.Sources {
		mems[name] = source.NewMemory(name)
		opts = append(opts, kernel.WithSource(scenario.Entity, name, mems[name]))
	}
	k := kernel.New(st, cfg, opts...)

	result := &Result{}
	rejectedSeen := make(map[string]int)
	var lastIK store.InternalKey

	for i, step := range scenario.Steps {
		stepName := fmt.Sprintf("%s step %d", scenario.Name, i+1)

		if err := applyState(step, mems); err != nil {
			return nil, fmt.Errorf("%s: %w", stepName, err)
		}

		req, err := parseRequest(scenario.Entity, step.Request)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stepName, err)
		}

		rec, err := k.Process(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", stepName, step.Request, err)
		}
		result.Records = append(result.Records, rec)
		if rec.IK != 0 {
			lastIK = store.InternalKey(rec.IK)
		}

		if step.Expect == nil {
			continue
		}
		failures, err := check(ctx, stepName, step.Expect, rec, mems, st, lastIK, rejectedSeen)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stepName, err)
		}
		result.Failures = append(result.Failures, failures...)
	}

	return result, nil
}

// applyState seeds documents and flips sources offline/online before a
// request.
func applyState(step Step, mems map[string]*source.Memory) error {
	for name, records := range step.Seed {
		mem, ok := mems[name]
		if !ok {
			return fmt.Errorf("seed names unknown source %q", name)
		}
		for fk, desc := range records {
			doc, err := docFromYAML(desc)
			if err != nil {
				return fmt.Errorf("seed %s/%s: %w", name, fk, err)
			}
			mem.Put(fk, doc)
		}
	}
	for _, name := range step.Offline {
		mem, ok := mems[name]
		if !ok {
			return fmt.Errorf("offline names unknown source %q", name)
		}
		mem.SetOffline(true)
	}
	for _, name := range step.Online {
		mem, ok := mems[name]
		if !ok {
			return fmt.Errorf("online names unknown source %q", name)
		}
		mem.SetOffline(false)
	}
	return nil
}

// parseRequest parses the "OP SOURCE KEY" step request form.
func parseRequest(entity, request string) (kernel.Request, error) {
	fields := strings.Fields(request)
	if len(fields) != 3 {
		return kernel.Request{}, fmt.Errorf("request %q: want \"OP SOURCE KEY\"", request)
	}
	op, err := kernel.ParseOp(fields[0])
	if err != nil {
		return kernel.Request{}, err
	}
	if op == kernel.OpRead {
		return kernel.Request{}, fmt.Errorf("request %q: read probes are not scriptable in scenarios", request)
	}
	return kernel.Request{
		Op: op,
		FK: source.ForeignKey{Entity: entity, Source: fields[1], Key: fields[2]},
	}, nil
}

// check validates one step's expectations, returning human-readable
// failures.
func check(
	ctx context.Context,
	stepName string,
	expect *Expect,
	rec kernel.Record,
	mems map[string]*source.Memory,
	st *store.Store,
	ik store.InternalKey,
	rejectedSeen map[string]int,
) ([]string, error) {
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf("%s: "+format, append([]any{stepName}, args...)...))
	}

	if expect.Outcome != "" && rec.Outcome != expect.Outcome {
		fail("outcome = %q, want %q", rec.Outcome, expect.Outcome)
	}

	for name, want := range expect.Statuses {
		found := false
		for _, strace := range rec.Sources {
			if strace.Source == name {
				found = true
				if string(strace.Status) != want {
					fail("source %s status = %q, want %q", name, strace.Status, want)
				}
			}
		}
		if !found {
			fail("source %s missing from trace", name)
		}
	}

	for name, records := range expect.Docs {
		mem, ok := mems[name]
		if !ok {
			return nil, fmt.Errorf("expect.docs names unknown source %q", name)
		}
		for fk, desc := range records {
			want, err := docFromYAML(desc)
			if err != nil {
				return nil, fmt.Errorf("expect.docs %s/%s: %w", name, fk, err)
			}
			got, ok := mem.Document(fk)
			if !ok {
				fail("source %s has no record %q", name, fk)
				continue
			}
			if !document.Equal(got, want) {
				gotJSON, _ := document.ToJSON(got)
				wantJSON, _ := document.ToJSON(want)
				fail("source %s record %q = %s, want %s", name, fk, gotJSON, wantJSON)
			}
		}
	}

	for name, fks := range expect.Gone {
		mem, ok := mems[name]
		if !ok {
			return nil, fmt.Errorf("expect.gone names unknown source %q", name)
		}
		for _, fk := range fks {
			if _, ok := mem.Document(fk); ok {
				fail("source %s still has record %q", name, fk)
			}
		}
	}

	if len(expect.Rejected) > 0 {
		rows, err := st.RejectedPatches(ctx, ik)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, row := range rows {
			counts[row.Source] += len(row.Patch)
		}
		for name, want := range expect.Rejected {
			got := counts[name] - rejectedSeen[name]
			if got != want {
				fail("source %s rejected ops this step = %d, want %d", name, got, want)
			}
		}
		for name, total := range counts {
			rejectedSeen[name] = total
		}
	}

	if expect.Initial != nil || expect.InitialGone {
		initial, ok, err := st.Reader().ReadInitialDocument(ctx, ik)
		if err != nil {
			return nil, err
		}
		if expect.InitialGone {
			if ok {
				fail("initial document still stored for ik %d", ik)
			}
		} else {
			want, err := docFromYAML(expect.Initial)
			if err != nil {
				return nil, fmt.Errorf("expect.initial: %w", err)
			}
			if !ok {
				fail("no initial document stored for ik %d", ik)
			} else if !document.Equal(initial, want) {
				gotJSON, _ := document.ToJSON(initial)
				wantJSON, _ := document.ToJSON(want)
				fail("initial = %s, want %s", gotJSON, wantJSON)
			}
		}
	}

	if expect.KeyGone {
		ok, err := st.HasInternalKey(ctx, ik)
		if err != nil {
			return nil, err
		}
		if ok {
			fail("internal key %d still exists", ik)
		}
	}

	return failures, nil
}
