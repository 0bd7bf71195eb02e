package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/silky/retcon/internal/config"
	"github.com/silky/retcon/internal/document"
	"github.com/silky/retcon/internal/kernel"
	"github.com/silky/retcon/internal/source"
	"github.com/silky/retcon/internal/store"
)

// NewRequestCommand creates one of the four request subcommands. All
// share the ENTITY SOURCE KEY argument shape and differ only in the
// operation they submit.
func NewRequestCommand(rootOpts *RootOptions, op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s ENTITY SOURCE KEY", op),
		Short: short,
		Example: fmt.Sprintf(`  retcond %s customer data K1
  retcond --config ./retcond.conf %s customer data K1 --format json`, op, op),
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(rootOpts, op, args[0], args[1], args[2], cmd)
		},
	}
}

func runRequest(opts *RootOptions, opName, entity, src, key string, cmd *cobra.Command) error {
	op, err := kernel.ParseOp(opName)
	if err != nil {
		return WrapExitError(ExitConfigError, "invalid operation", err)
	}

	path := opts.ResolveConfigPath(config.DefaultPath, config.EnvConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitConfigError, "failed to load configuration", err)
	}

	configureLogging(cfg.Server.LogLevel, opts.Verbose)

	st, err := store.Open(cfg.Server.Database)
	if err != nil {
		return WrapExitError(ExitReconError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	var sink kernel.TraceSink = &kernel.SlogSink{}
	k := kernel.New(st, cfg, kernel.WithTraceSink(sink))

	fk := source.ForeignKey{Entity: entity, Source: src, Key: key}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if op == kernel.OpRead {
		probe, err := k.Probe(cmd.Context(), fk)
		if err != nil {
			return requestError(out, err)
		}
		return out.Success(probeData(probe))
	}

	rec, err := k.Process(cmd.Context(), kernel.Request{Op: op, FK: fk})
	if err != nil {
		return requestError(out, err)
	}
	return out.Success(roundData(rec))
}

// requestError prints the error kind and maps it to the right exit
// code: configuration errors exit 1, everything else exits 2.
func requestError(out *OutputFormatter, err error) error {
	code := kernel.CodeOf(err)
	_ = out.Error(string(code), err.Error())
	if kernel.IsConfig(err) {
		return WrapExitError(ExitConfigError, "request rejected", err)
	}
	return WrapExitError(ExitReconError, "reconciliation failed", err)
}

// roundData renders a round trace record for output.
func roundData(rec kernel.Record) map[string]any {
	sources := make(map[string]any, len(rec.Sources))
	for _, st := range rec.Sources {
		line := string(st.Status)
		if st.Write != "" {
			line += " " + st.Write
		}
		if st.Reason != "" {
			line += " (" + st.Reason + ")"
		}
		sources[st.Source] = line
	}
	return map[string]any{
		"token":   rec.Token,
		"request": rec.Request,
		"ik":      rec.IK,
		"outcome": rec.Outcome,
		"sources": sources,
	}
}

// probeData renders a probe result for output.
func probeData(p *kernel.ProbeResult) map[string]any {
	if !p.Known {
		return map[string]any{"known": false}
	}

	views := make(map[string]any, len(p.Views))
	for _, v := range p.Views {
		entry := map[string]any{"status": string(v.Status)}
		if v.FK != "" {
			entry["fk"] = v.FK
		}
		if v.Reason != "" {
			entry["reason"] = v.Reason
		}
		if v.Doc != nil {
			entry["document"] = docData(v.Doc)
		}
		views[v.Source] = entry
	}

	data := map[string]any{
		"known": true,
		"ik":    int64(p.IK),
		"views": views,
	}
	if p.HasInitial {
		data["initial"] = docData(p.Initial)
	}
	return data
}

// docData renders a document as its JSON embedding for display.
func docData(d *document.Document) any {
	data, err := document.ToJSON(d)
	if err != nil {
		return fmt.Sprintf("<unrenderable: %v>", err)
	}
	return string(data)
}

// configureLogging sets the default slog handler from the configured
// level; --verbose forces DEBUG.
func configureLogging(level string, verbose bool) {
	logLevel := slog.LevelInfo
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
