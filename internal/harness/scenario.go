// Package harness executes end-to-end reconciliation scenarios
// described in YAML against in-memory sources and a throwaway store.
// Scenario files are the conformance suite for the kernel protocol.
package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/silky/retcon/internal/document"
)

// Scenario defines one conformance scenario: an entity with its policy
// and sources, seeded source state, and a sequence of requests with
// expectations.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Entity is the entity name all requests target.
	Entity string `yaml:"entity"`

	// MergePolicy names the entity's policy ("reject-all",
	// "ignore-conflicts", "trust-only:S", "merge-all").
	MergePolicy string `yaml:"merge-policy"`

	// Sources lists the enabled source names.
	Sources []string `yaml:"sources"`

	// Steps is the request sequence.
	Steps []Step `yaml:"steps"`
}

// Step is one request plus the state changes preceding it and the
// expectations following it.
type Step struct {
	// Seed overwrites source records before the request:
	// source → foreign key → document (as JSON-shaped YAML).
	Seed map[string]map[string]map[string]any `yaml:"seed,omitempty"`

	// Offline lists sources switched unavailable before the request.
	Offline []string `yaml:"offline,omitempty"`

	// Online lists sources switched back before the request.
	Online []string `yaml:"online,omitempty"`

	// Request is "OP SOURCE KEY", e.g. "update data K1".
	Request string `yaml:"request"`

	// Expect validates the state after the request. Nil skips
	// validation for this step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the post-step state to validate. All fields are
// subset checks; omitted fields are not validated.
type Expect struct {
	// Outcome is the expected round outcome ("committed", "noop").
	Outcome string `yaml:"outcome,omitempty"`

	// Docs asserts source records: source → foreign key → document.
	Docs map[string]map[string]map[string]any `yaml:"docs,omitempty"`

	// Gone asserts foreign keys no longer present: source → keys.
	Gone map[string][]string `yaml:"gone,omitempty"`

	// Statuses asserts per-source fetch statuses of the round.
	Statuses map[string]string `yaml:"statuses,omitempty"`

	// Rejected asserts the number of rejected operations recorded for
	// each source during this step, summed over its rejected-patch rows.
	Rejected map[string]int `yaml:"rejected,omitempty"`

	// Initial asserts the stored initial document after the step.
	Initial map[string]any `yaml:"initial,omitempty"`

	// InitialGone asserts no initial document row remains.
	InitialGone bool `yaml:"initial-gone,omitempty"`

	// KeyGone asserts the internal key row was removed.
	KeyGone bool `yaml:"key-gone,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Name == "" {
		return nil, fmt.Errorf("scenario missing name")
	}
	if scenario.Entity == "" || len(scenario.Sources) == 0 {
		return nil, fmt.Errorf("scenario %q: entity and sources are required", scenario.Name)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q: at least one step is required", scenario.Name)
	}
	return &scenario, nil
}

// docFromYAML converts a YAML-shaped document description into a
// document via its JSON embedding.
func docFromYAML(m map[string]any) (*document.Document, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("document description: %w", err)
	}
	return document.FromJSON(data)
}
