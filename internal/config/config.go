// Package config loads and validates the retcond configuration.
//
// The configuration file is a CUE document; nesting and interpolation
// over previously-defined scalars come from CUE itself ("\(base)/..." in
// field values). The structure mirrors the runtime model:
//
//	base: "/var/lib/retcon"
//
//	server: {
//		listen:      "http://localhost:8888"
//		"log-level": "INFO"
//		database:    "\(base)/retcon.db"
//	}
//
//	entities: {
//		enabled: ["customer"]
//		customer: {
//			"merge-policy": "ignore-conflicts"
//			enabled: ["data", "test-results"]
//			data: {
//				create: "customer-data create"
//				read:   "customer-data read %fk"
//				update: "customer-data update %fk"
//				delete: "customer-data delete %fk"
//			}
//		}
//	}
//
// Configuration is immutable for the lifetime of the process.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/silky/retcon/internal/merge"
	"github.com/silky/retcon/internal/source"
)

// DefaultPath is where retcond looks for its configuration when neither
// --config nor RETCON_CONFIG is given.
const DefaultPath = "/etc/retcond/retcond.conf"

// EnvConfig overrides the default path when the --config flag is not
// given.
const EnvConfig = "RETCON_CONFIG"

// DefaultSourceTimeout bounds each data-source call when a source does
// not configure its own.
const DefaultSourceTimeout = 30 * time.Second

// Config is the resolved process configuration.
type Config struct {
	Server   Server
	Base     string
	Entities map[string]*Entity
}

// Server holds the daemon-level settings.
type Server struct {
	Listen   string
	LogLevel string
	Database string
}

// Entity is one configured entity with its merge policy and enabled
// sources.
type Entity struct {
	Name    string
	Policy  merge.Policy
	Sources map[string]*Source
}

// Source is one configured data source of an entity.
type Source struct {
	Name     string
	Commands source.Commands
	Timeout  time.Duration
}

// Error reports a configuration problem. Configuration errors are fatal
// at startup.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Entity returns a configured entity, validating the name against the
// configured universe.
func (c *Config) Entity(name string) (*Entity, error) {
	e, ok := c.Entities[name]
	if !ok {
		return nil, &Error{Field: "entities", Message: fmt.Sprintf("unknown entity %q", name)}
	}
	return e, nil
}

// ValidatePair checks an (entity, source) pair against the configured
// universe. Requests mentioning unknown pairs fail before any store
// work.
func (c *Config) ValidatePair(entity, src string) error {
	e, err := c.Entity(entity)
	if err != nil {
		return err
	}
	if _, ok := e.Sources[src]; !ok {
		return &Error{
			Field:   "entities." + entity,
			Message: fmt.Sprintf("unknown source %q", src),
		}
	}
	return nil
}

// SourceNames returns the entity's enabled sources ascending. The merge
// step consumes sources in this order so the merged patch is independent
// of fetch arrival order.
func (e *Entity) SourceNames() []string {
	names := make([]string, 0, len(e.Sources))
	for name := range e.Sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
