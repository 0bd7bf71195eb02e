// Package cli implements the retcond command-line front end: one
// subcommand per request operation, configuration resolution, and exit
// code mapping.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the retcond CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "retcond",
		Short: "Retcon - document reconciliation across data sources",
		Long: `Retcon keeps semi-structured JSON documents synchronized across a
heterogeneous set of external data sources. Each subcommand notifies the
reconciliation kernel that a record changed in one source; the kernel
fetches every source's view, merges the changes under the entity's
policy, and writes the result back everywhere.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitConfigError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (per-round traces)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// One subcommand per request operation.
	cmd.AddCommand(NewRequestCommand(opts, "create", "Notify Retcon of a record created in a source"))
	cmd.AddCommand(NewRequestCommand(opts, "read", "Report every source's view of a record"))
	cmd.AddCommand(NewRequestCommand(opts, "update", "Notify Retcon of a record changed in a source"))
	cmd.AddCommand(NewRequestCommand(opts, "delete", "Notify Retcon of a record deleted in a source"))

	return cmd
}

// ResolveConfigPath applies the flag > environment > default order.
func (o *RootOptions) ResolveConfigPath(defaultPath, envVar string) string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if env := os.Getenv(envVar); env != "" {
		return env
	}
	return defaultPath
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
