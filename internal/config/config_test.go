package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
base: "/var/lib/retcon"

server: {
	listen:      "http://localhost:8888"
	"log-level": "DEBUG"
	database:    "\(base)/retcon.db"
}

entities: {
	enabled: ["customer"]
	customer: {
		"merge-policy": "ignore-conflicts"
		enabled: ["data", "test-results"]
		data: {
			create: "customer-data create"
			read:   "customer-data read %fk"
			update: "customer-data update %fk"
			delete: "customer-data delete %fk"
		}
		"test-results": {
			create:  "test-results create"
			read:    "test-results read %fk"
			update:  "test-results update %fk"
			delete:  "test-results delete %fk"
			timeout: "2s"
		}
	}
}
`

func parseSample(t *testing.T) *Config {
	t.Helper()
	cfg, err := Parse([]byte(sampleConfig), "retcond.conf")
	require.NoError(t, err)
	return cfg
}

func TestParseSample(t *testing.T) {
	cfg := parseSample(t)

	assert.Equal(t, "/var/lib/retcon", cfg.Base)
	assert.Equal(t, "http://localhost:8888", cfg.Server.Listen)
	assert.Equal(t, "DEBUG", cfg.Server.LogLevel)
	assert.Equal(t, "/var/lib/retcon/retcon.db", cfg.Server.Database,
		"interpolation over previously-defined scalars")

	require.Contains(t, cfg.Entities, "customer")
	customer := cfg.Entities["customer"]
	assert.Equal(t, "ignore-conflicts", customer.Policy.Name())
	assert.Equal(t, []string{"data", "test-results"}, customer.SourceNames())

	data := customer.Sources["data"]
	assert.Equal(t, "customer-data read %fk", data.Commands.Read)
	assert.Equal(t, DefaultSourceTimeout, data.Timeout)

	tr := customer.Sources["test-results"]
	assert.Equal(t, 2*time.Second, tr.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retcond.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Entities, "customer")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid CUE", `server: {`},
		{"missing server", `entities: { enabled: ["a"], a: {} }`},
		{"missing database", `
server: { "log-level": "INFO" }
entities: { enabled: [] }
`},
		{"bad log level", `
server: { database: "db", "log-level": "CHATTY" }
entities: { enabled: [] }
`},
		{"no entities block", `server: { database: "db" }`},
		{"no enabled entities", `
server: { database: "db" }
entities: { enabled: [] }
`},
		{"enabled entity without block", `
server: { database: "db" }
entities: { enabled: ["ghost"] }
`},
		{"bad merge policy", `
server: { database: "db" }
entities: {
	enabled: ["a"]
	a: {
		"merge-policy": "coin-flip"
		enabled: ["s"]
		s: { create: "c", read: "r", update: "u", delete: "d" }
	}
}
`},
		{"enabled source without block", `
server: { database: "db" }
entities: {
	enabled: ["a"]
	a: {
		"merge-policy": "merge-all"
		enabled: ["ghost"]
	}
}
`},
		{"source missing command", `
server: { database: "db" }
entities: {
	enabled: ["a"]
	a: {
		"merge-policy": "merge-all"
		enabled: ["s"]
		s: { create: "c", read: "r", update: "u" }
	}
}
`},
		{"bad timeout", `
server: { database: "db" }
entities: {
	enabled: ["a"]
	a: {
		"merge-policy": "merge-all"
		enabled: ["s"]
		s: { create: "c", read: "r", update: "u", delete: "d", timeout: "soon" }
	}
}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), "test.conf")
			var cerr *Error
			require.ErrorAs(t, err, &cerr, "input: %s", tt.input)
		})
	}
}

func TestValidatePair(t *testing.T) {
	cfg := parseSample(t)

	assert.NoError(t, cfg.ValidatePair("customer", "data"))
	assert.NoError(t, cfg.ValidatePair("customer", "test-results"))
	assert.Error(t, cfg.ValidatePair("customer", "crm"))
	assert.Error(t, cfg.ValidatePair("invoice", "data"))
}

func TestEntityLookup(t *testing.T) {
	cfg := parseSample(t)

	e, err := cfg.Entity("customer")
	require.NoError(t, err)
	assert.Equal(t, "customer", e.Name)

	_, err = cfg.Entity("ghost")
	assert.Error(t, err)
}
