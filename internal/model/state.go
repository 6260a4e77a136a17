package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Kind discriminates the three document variants. Every variant shares the
// State layout; mutation rules differ per kind and live in package core.
type Kind int

const (
	// KindDocument is a live, mutable document.
	KindDocument Kind = iota + 1
	// KindVersion is an immutable snapshot created by checkin.
	KindVersion
	// KindProxy is a placed pointer to a version or a live document.
	KindProxy
)

// String returns the discriminator name used in query plans and logs.
func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindVersion:
		return "version"
	case KindProxy:
		return "proxy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Lock is an advisory lock on a document.
type Lock struct {
	Owner   string    `json:"owner"`
	Created time.Time `json:"created"`
}

// State is the persisted form of a document, version or proxy.
//
// Properties maps a schema name to the schema's field values. A proxy
// carries no properties of its own: reads go to TargetID.
type State struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`

	// SeriesID is the version series: the live document id.
	SeriesID string `json:"series_id"`

	// Live document versioning state.
	CheckedIn     bool   `json:"checked_in,omitempty"`
	BaseVersionID string `json:"base_version_id,omitempty"`
	MajorVersion  int64  `json:"major_version,omitempty"`
	MinorVersion  int64  `json:"minor_version,omitempty"`

	// Version snapshot state.
	VersionLabel   string    `json:"version_label,omitempty"`
	CheckinComment string    `json:"checkin_comment,omitempty"`
	VersionCreated time.Time `json:"version_created,omitzero"`
	IsLatest       bool      `json:"is_latest,omitempty"`
	IsLatestMajor  bool      `json:"is_latest_major,omitempty"`

	// TargetID is the proxy target (version or live document).
	TargetID string `json:"target_id,omitempty"`

	// Facets holds the dynamically added facets only; type facets come
	// from the registry.
	Facets []string `json:"facets,omitempty"`

	LifecycleState string `json:"lifecycle_state,omitempty"`

	// BinaryText is the text extracted from the document's blobs by the
	// asynchronous indexer; fulltext queries may lag it.
	BinaryText string `json:"binary_text,omitempty"`

	Properties Map `json:"properties,omitempty"`
	ACP        ACP `json:"acp,omitempty"`

	// ChangeToken is stamped from the repository clock on every flush.
	ChangeToken int64 `json:"change_token"`

	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Lock is attached by backends on read; it is never written through
	// Apply.
	Lock *Lock `json:"-"`
}

// IsVersion reports whether the state is a version.
func (s *State) IsVersion() bool { return s.Kind == KindVersion }

// IsProxy reports whether the state is a proxy.
func (s *State) IsProxy() bool { return s.Kind == KindProxy }

// IsLive reports whether the state is a live document.
func (s *State) IsLive() bool { return s.Kind == KindDocument }

// HasFacet reports whether the dynamic facet set contains name.
func (s *State) HasFacet(name string) bool {
	return slices.Contains(s.Facets, name)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Facets = slices.Clone(s.Facets)
	out.Properties = s.Properties.Clone()
	out.ACP = s.ACP.Clone()
	if s.Lock != nil {
		l := *s.Lock
		out.Lock = &l
	}
	return &out
}

// SchemaData returns the field map for a schema, or nil.
func (s *State) SchemaData(schema string) Map {
	if s.Properties == nil {
		return nil
	}
	m, _ := s.Properties[schema].(Map)
	return m
}

// SetSchemaData replaces the field map of a schema.
func (s *State) SetSchemaData(schema string, data Map) {
	if s.Properties == nil {
		s.Properties = Map{}
	}
	if data == nil {
		delete(s.Properties, schema)
		return
	}
	s.Properties[schema] = data
}

// VersionLabelFor formats the "major.minor" label.
func VersionLabelFor(major, minor int64) string {
	return fmt.Sprintf("%d.%d", major, minor)
}

// MarshalState encodes a state for storage.
func MarshalState(s *State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state %s: %w", s.ID, err)
	}
	return data, nil
}

// UnmarshalState decodes a stored state.
func UnmarshalState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &s, nil
}
