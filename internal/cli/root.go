package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Config  string
	Data    string
	Backend string

	User   string
	Groups []string
	Admin  bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the nxdoc CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "nxdoc",
		Short: "nxdoc - versioned document repository",
		Long: `A versioned, access-controlled document repository queried with NXQL.

Documents live in a folder tree, are snapshotted into immutable versions,
published through proxies, and filtered by inherited ACLs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.User == "" {
				return fmt.Errorf("--user must not be empty")
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Data, "data", "", "data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "backend kind, sqlite or bolt (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "Administrator", "principal name")
	cmd.PersistentFlags().StringSliceVar(&opts.Groups, "group", nil, "extra principal groups")
	cmd.PersistentFlags().BoolVar(&opts.Admin, "admin", true, "act as an administrator")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewScrollCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
