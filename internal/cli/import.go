package cli

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/nxdoc/internal/core"
	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/schema"
)

// Fixture is the YAML document set read by the import command. Documents
// are applied in order, so parents must precede their children.
type Fixture struct {
	Documents []FixtureDocument `yaml:"documents"`
}

// FixtureDocument describes one document. An existing document at Path
// is updated instead of created.
type FixtureDocument struct {
	Path       string         `yaml:"path"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
	ACL        []FixtureACE   `yaml:"acl"`
	Facets     []string       `yaml:"facets"`
	Lifecycle  string         `yaml:"lifecycle"`

	// CheckIn is "minor" or "major"; empty leaves the document checked out.
	CheckIn string `yaml:"checkin"`
	Comment string `yaml:"comment"`

	// Publish lists folder paths to publish the document into.
	Publish []string `yaml:"publish"`

	Blob *FixtureBlob `yaml:"blob"`
}

// FixtureACE is one entry of a document's local ACL. Grant defaults to
// true.
type FixtureACE struct {
	Principal  string     `yaml:"principal"`
	Permission string     `yaml:"permission"`
	Grant      *bool      `yaml:"grant"`
	Begin      *time.Time `yaml:"begin"`
	End        *time.Time `yaml:"end"`
}

// FixtureBlob attaches inline content to a blob property.
type FixtureBlob struct {
	XPath    string `yaml:"xpath"`
	Filename string `yaml:"filename"`
	MimeType string `yaml:"mime_type"`
	Content  string `yaml:"content"`
}

// LoadFixture reads a fixture file.
func LoadFixture(file string) (*Fixture, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", file, err)
	}
	for i, d := range f.Documents {
		if !strings.HasPrefix(d.Path, "/") || d.Path == "/" {
			return nil, fmt.Errorf("document %d: path %q must be absolute and below the root", i, d.Path)
		}
		if d.Type == "" {
			return nil, fmt.Errorf("document %d (%s): type is required", i, d.Path)
		}
		switch d.CheckIn {
		case "", "minor", "major":
		default:
			return nil, fmt.Errorf("document %d (%s): checkin must be minor or major", i, d.Path)
		}
	}
	return &f, nil
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Create or update documents from a YAML fixture",
		Long: `Create or update documents from a YAML fixture, in one transaction.

Example fixture:
  documents:
    - path: /ws
      type: Workspace
      properties:
        dc:title: Team space
      acl:
        - {principal: bob, permission: Everything}
    - path: /ws/report
      type: File
      properties:
        dc:title: Q3 report
        dc:subjects: [finance]
      checkin: major
      publish: [/ws]`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

// ImportOutput summarizes an import.
type ImportOutput struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Versions  int      `json:"versions"`
	Proxies   int      `json:"proxies"`
	Documents []string `json:"documents"`
}

// Text renders the summary.
func (o ImportOutput) Text() string {
	return fmt.Sprintf("Imported %d documents (%d created, %d updated, %d versions, %d proxies)\n",
		len(o.Documents), o.Created, o.Updated, o.Versions, o.Proxies)
}

func runImport(opts *RootOptions, file string, cmd *cobra.Command) error {
	ctx := commandContext(cmd.Context())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	fixture, err := LoadFixture(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}
	e, err := openEnv(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()
	s, err := e.session(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	out := ImportOutput{Documents: []string{}}
	for _, d := range fixture.Documents {
		if err := importDocument(ctx, s, e.repo.Registry(), d, &out); err != nil {
			return formatter.Fail(fmt.Sprintf("import %s failed", d.Path), err)
		}
		formatter.VerboseLog("imported %s", d.Path)
	}
	if err := s.Commit(ctx); err != nil {
		return formatter.Fail("commit failed", err)
	}
	return formatter.Success(out)
}

func importDocument(ctx context.Context, s *core.Session, reg *schema.Registry, d FixtureDocument, out *ImportOutput) error {
	values, err := fixtureValues(reg, d.Type, d.Properties)
	if err != nil {
		return err
	}

	var doc *model.State
	existing, err := s.GetDocumentByPath(ctx, d.Path)
	switch {
	case errs.IsNotFound(err):
		parent, err := s.GetDocumentByPath(ctx, path.Dir(d.Path))
		if err != nil {
			return err
		}
		if doc, err = s.CreateDocument(ctx, parent.ID, path.Base(d.Path), d.Type, values); err != nil {
			return err
		}
		out.Created++
	case err != nil:
		return err
	default:
		if doc, err = s.UpdateDocument(ctx, existing.ID, values); err != nil {
			return err
		}
		out.Updated++
	}

	for _, facet := range d.Facets {
		if _, err := s.AddFacet(ctx, doc.ID, facet); err != nil {
			return err
		}
	}
	if len(d.ACL) > 0 {
		if err := s.SetACP(ctx, doc.ID, model.ACP{{Name: model.LocalACL, Entries: fixtureACEs(d.ACL)}}); err != nil {
			return err
		}
	}
	if d.Blob != nil {
		if err := s.AttachBlob(ctx, doc.ID, d.Blob.XPath, d.Blob.Filename, d.Blob.MimeType, []byte(d.Blob.Content)); err != nil {
			return err
		}
	}
	if d.Lifecycle != "" {
		if err := s.FollowTransition(ctx, doc.ID, d.Lifecycle); err != nil {
			return err
		}
	}
	if d.CheckIn != "" {
		opt := core.VersionMinor
		if d.CheckIn == "major" {
			opt = core.VersionMajor
		}
		if _, err := s.CheckIn(ctx, doc.ID, opt, d.Comment); err != nil {
			return err
		}
		out.Versions++
	}
	for _, target := range d.Publish {
		folder, err := s.GetDocumentByPath(ctx, target)
		if err != nil {
			return err
		}
		if _, err := s.PublishDocument(ctx, doc.ID, folder.ID, true); err != nil {
			return err
		}
		out.Proxies++
	}
	out.Documents = append(out.Documents, d.Path)
	return nil
}

// fixtureValues converts YAML values to property values. Strings given
// for date properties are parsed as RFC 3339 timestamps or plain dates.
func fixtureValues(reg *schema.Registry, typ string, props map[string]any) (map[string]model.Value, error) {
	values := make(map[string]model.Value, len(props))
	for xpath, raw := range props {
		v, err := model.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", xpath, err)
		}
		if p, err := reg.Resolve(xpath, []string{typ}); err == nil && p.Leaf.Kind == schema.KindDate {
			if v, err = parseDates(v); err != nil {
				return nil, fmt.Errorf("property %s: %w", xpath, err)
			}
		}
		values[xpath] = v
	}
	return values, nil
}

func parseDates(v model.Value) (model.Value, error) {
	switch val := v.(type) {
	case model.String:
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if t, err := time.Parse(layout, string(val)); err == nil {
				return model.Time(t.UTC()), nil
			}
		}
		return nil, fmt.Errorf("invalid date %q", string(val))
	case model.List:
		out := make(model.List, len(val))
		for i, e := range val {
			d, err := parseDates(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}
	return v, nil
}

func fixtureACEs(entries []FixtureACE) []model.ACE {
	out := make([]model.ACE, 0, len(entries))
	for _, fe := range entries {
		ace := model.GrantACE(fe.Principal, fe.Permission)
		if fe.Grant != nil && !*fe.Grant {
			ace = model.DenyACE(fe.Principal, fe.Permission)
		}
		ace.Begin, ace.End = fe.Begin, fe.End
		out = append(out, ace)
	}
	return out
}
