package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"github.com/roach88/nxdoc/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [dir]",
		Short: "Load and validate a schema registry",
		Long: `Load and validate a CUE schema registry, then list its types.

Without a directory, the built-in registry is listed.

Example:
  nxdoc schema ./schemas
  nxdoc schema --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runSchema(rootOpts, dir, cmd)
		},
	}
	return cmd
}

// TypeOutput describes one document type.
type TypeOutput struct {
	Name    string   `json:"name"`
	Super   string   `json:"super,omitempty"`
	Schemas []string `json:"schemas"`
	Facets  []string `json:"facets"`
}

// SchemaOutput is the result of the schema command.
type SchemaOutput struct {
	Source  string       `json:"source"`
	Types   []TypeOutput `json:"types"`
	Schemas []string     `json:"schemas"`
	Facets  []string     `json:"facets"`
}

// Text renders the types as a table.
func (o SchemaOutput) Text() string {
	t := table.NewWriter()
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"TYPE", "SUPER", "SCHEMAS", "FACETS"})
	for _, ty := range o.Types {
		super := ty.Super
		if super == "" {
			super = "-"
		}
		t.AppendRow(table.Row{ty.Name, super, strings.Join(ty.Schemas, ","), strings.Join(ty.Facets, ",")})
	}
	return fmt.Sprintf("Registry %s: %d types, %d schemas, %d facets\n%s\n",
		o.Source, len(o.Types), len(o.Schemas), len(o.Facets), t.Render())
}

func runSchema(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reg, err := loadRegistry(dir)
	if err != nil {
		return formatter.Fail("schema validation failed", err)
	}
	source := dir
	if source == "" {
		source = "built-in"
	}
	return formatter.Success(describeRegistry(reg, source))
}

func describeRegistry(reg *schema.Registry, source string) SchemaOutput {
	out := SchemaOutput{
		Source:  source,
		Types:   []TypeOutput{},
		Schemas: reg.SchemaNames(),
		Facets:  reg.FacetNames(),
	}
	for _, name := range reg.TypeNames() {
		t, _ := reg.Type(name)
		out.Types = append(out.Types, TypeOutput{
			Name:    name,
			Super:   t.Super,
			Schemas: nonNil(reg.TypeSchemas(name)),
			Facets:  nonNil(reg.TypeFacets(name)),
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
