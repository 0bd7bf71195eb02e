package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/silky/retcon/internal/merge"
	"github.com/silky/retcon/internal/source"
)

// Valid log-level values.
var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(data, path)
}

// Parse evaluates a CUE configuration document.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, &Error{Message: fmt.Sprintf("parse %s: %v", filename, err)}
	}

	cfg := &Config{Entities: make(map[string]*Entity)}

	var err error
	cfg.Base, err = optionalString(v, "base", "")
	if err != nil {
		return nil, err
	}

	if cfg.Server, err = parseServer(v); err != nil {
		return nil, err
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return nil, &Error{Field: "entities", Message: "entities block is required"}
	}

	names, err := stringList(entitiesVal, "enabled", "entities.enabled")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, &Error{Field: "entities.enabled", Message: "at least one entity must be enabled"}
	}

	for _, name := range names {
		entity, err := parseEntity(entitiesVal, name)
		if err != nil {
			return nil, err
		}
		cfg.Entities[name] = entity
	}

	return cfg, nil
}

func parseServer(v cue.Value) (Server, error) {
	var srv Server
	serverVal := v.LookupPath(cue.ParsePath("server"))
	if !serverVal.Exists() {
		return srv, &Error{Field: "server", Message: "server block is required"}
	}

	var err error
	if srv.Listen, err = optionalString(serverVal, "listen", ""); err != nil {
		return srv, err
	}
	if srv.Database, err = requiredString(serverVal, "database", "server.database"); err != nil {
		return srv, err
	}
	if srv.LogLevel, err = optionalString(serverVal, "log-level", "INFO"); err != nil {
		return srv, err
	}

	valid := false
	for _, level := range logLevels {
		if srv.LogLevel == level {
			valid = true
		}
	}
	if !valid {
		return srv, &Error{
			Field:   "server.log-level",
			Message: fmt.Sprintf("invalid level %q: must be one of %v", srv.LogLevel, logLevels),
		}
	}

	return srv, nil
}

func parseEntity(entities cue.Value, name string) (*Entity, error) {
	field := "entities." + name
	v := entities.LookupPath(cue.MakePath(cue.Str(name)))
	if !v.Exists() {
		return nil, &Error{Field: field, Message: "enabled entity has no configuration block"}
	}

	policyName, err := requiredString(v, "merge-policy", field+".merge-policy")
	if err != nil {
		return nil, err
	}
	policy, err := merge.Parse(policyName)
	if err != nil {
		return nil, &Error{Field: field + ".merge-policy", Message: err.Error()}
	}

	sourceNames, err := stringList(v, "enabled", field+".enabled")
	if err != nil {
		return nil, err
	}
	if len(sourceNames) == 0 {
		return nil, &Error{Field: field + ".enabled", Message: "at least one source must be enabled"}
	}

	entity := &Entity{Name: name, Policy: policy, Sources: make(map[string]*Source)}
	for _, sourceName := range sourceNames {
		src, err := parseSource(v, field, sourceName)
		if err != nil {
			return nil, err
		}
		entity.Sources[sourceName] = src
	}

	return entity, nil
}

func parseSource(entity cue.Value, entityField, name string) (*Source, error) {
	field := entityField + "." + name
	v := entity.LookupPath(cue.MakePath(cue.Str(name)))
	if !v.Exists() {
		return nil, &Error{Field: field, Message: "enabled source has no configuration block"}
	}

	var cmds source.Commands
	var err error
	if cmds.Create, err = requiredString(v, "create", field+".create"); err != nil {
		return nil, err
	}
	if cmds.Read, err = requiredString(v, "read", field+".read"); err != nil {
		return nil, err
	}
	if cmds.Update, err = requiredString(v, "update", field+".update"); err != nil {
		return nil, err
	}
	if cmds.Delete, err = requiredString(v, "delete", field+".delete"); err != nil {
		return nil, err
	}

	timeout := DefaultSourceTimeout
	raw, err := optionalString(v, "timeout", "")
	if err != nil {
		return nil, err
	}
	if raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, &Error{Field: field + ".timeout", Message: err.Error()}
		}
	}

	return &Source{Name: name, Commands: cmds, Timeout: timeout}, nil
}

func requiredString(v cue.Value, key, field string) (string, error) {
	val := v.LookupPath(cue.MakePath(cue.Str(key)))
	if !val.Exists() {
		return "", &Error{Field: field, Message: "required"}
	}
	s, err := val.String()
	if err != nil {
		return "", &Error{Field: field, Message: err.Error()}
	}
	return s, nil
}

func optionalString(v cue.Value, key, fallback string) (string, error) {
	val := v.LookupPath(cue.MakePath(cue.Str(key)))
	if !val.Exists() {
		return fallback, nil
	}
	s, err := val.String()
	if err != nil {
		return "", &Error{Field: key, Message: err.Error()}
	}
	return s, nil
}

func stringList(v cue.Value, key, field string) ([]string, error) {
	val := v.LookupPath(cue.MakePath(cue.Str(key)))
	if !val.Exists() {
		return nil, nil
	}

	iter, err := val.List()
	if err != nil {
		return nil, &Error{Field: field, Message: err.Error()}
	}

	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &Error{Field: field, Message: err.Error()}
		}
		out = append(out, s)
	}
	return out, nil
}
