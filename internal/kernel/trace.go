package kernel

import (
	"log/slog"
	"sync"
)

// SourceStatus is the per-source fetch outcome of one round.
type SourceStatus string

const (
	// StatusOK: the source's view was fetched and diffed.
	StatusOK SourceStatus = "ok"

	// StatusUnknown: no foreign key was ever recorded for the source.
	StatusUnknown SourceStatus = "unknown"

	// StatusAbsent: a foreign key exists but the fetch failed; the
	// source contributes nothing this round and converges later.
	StatusAbsent SourceStatus = "absent"
)

// SourceTrace is one source's line in a round's trace record.
type SourceTrace struct {
	Source    string       `json:"source"`
	Status    SourceStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	PatchSize int          `json:"patch_size"`
	Write     string       `json:"write,omitempty"`
	WriteErr  string       `json:"write_err,omitempty"`
}

// Record is the structured trace of one reconciliation round. Tracing
// is a side channel: behaviour never depends on whether a sink is
// listening.
type Record struct {
	Token       string         `json:"token"`
	Request     string         `json:"request"`
	IK          int64          `json:"ik"`
	Sources     []SourceTrace  `json:"sources"`
	InitialSize int            `json:"initial_size"`
	MergedSize  int            `json:"merged_size"`
	Rejected    map[string]int `json:"rejected,omitempty"`
	LossyPaths  []string       `json:"lossy_paths,omitempty"`
	Outcome     string         `json:"outcome"`
	Err         string         `json:"err,omitempty"`
}

// Round outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeNoop       = "noop"
	OutcomeRolledBack = "rolled-back"
)

// TraceSink receives one record per round. Sinks may block; writes
// happen outside the pure diff/merge core.
type TraceSink interface {
	Trace(rec Record)
}

// SlogSink logs trace records through log/slog. Lossy serialization
// paths additionally log a warning.
type SlogSink struct {
	Logger *slog.Logger
}

// Trace implements TraceSink.
func (s *SlogSink) Trace(rec Record) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, p := range rec.LossyPaths {
		logger.Warn("document scalar dropped by JSON rendering", "token", rec.Token, "path", p)
	}

	attrs := []any{
		"token", rec.Token,
		"request", rec.Request,
		"ik", rec.IK,
		"initial_size", rec.InitialSize,
		"merged_size", rec.MergedSize,
		"outcome", rec.Outcome,
	}
	for _, st := range rec.Sources {
		attrs = append(attrs, "source."+st.Source, string(st.Status))
	}
	if rec.Err != "" {
		attrs = append(attrs, "err", rec.Err)
	}
	logger.Debug("round", attrs...)
}

// MemorySink captures records for tests and the scenario harness.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// Trace implements TraceSink.
func (s *MemorySink) Trace(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of the captured records.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// discardSink drops records; used when tracing is disabled.
type discardSink struct{}

func (discardSink) Trace(Record) {}
