package queryir

import "strings"

// System attribute names.
const (
	UUID                 = "ecm:uuid"
	ParentID             = "ecm:parentId"
	Name                 = "ecm:name"
	Path                 = "ecm:path"
	PrimaryType          = "ecm:primaryType"
	MixinType            = "ecm:mixinType"
	IsProxy              = "ecm:isProxy"
	IsVersion            = "ecm:isVersion"
	IsCheckedIn          = "ecm:isCheckedIn"
	IsLatestVersion      = "ecm:isLatestVersion"
	IsLatestMajorVersion = "ecm:isLatestMajorVersion"
	VersionLabel         = "ecm:versionLabel"
	VersionDescription   = "ecm:versionDescription"
	VersionCreated       = "ecm:versionCreated"
	VersionVersionableID = "ecm:versionVersionableId"
	ProxyTargetID        = "ecm:proxyTargetId"
	LifeCycleState       = "ecm:currentLifeCycleState"
	LockOwner            = "ecm:lockOwner"
	LockCreated          = "ecm:lockCreated"
	ChangeToken          = "ecm:changeToken"
	AncestorID           = "ecm:ancestorId"
	FulltextAttr         = "ecm:fulltext"
	FulltextScore        = "ecm:fulltextScore"

	// ACLPrefix starts ACL virtual column references: ecm:acl/*N/field.
	ACLPrefix = "ecm:acl/"
)

// ACL virtual column fields.
const (
	ACLName       = "name"
	ACLPrincipal  = "principal"
	ACLPermission = "permission"
	ACLGrant      = "grant"
	ACLCreator    = "creator"
	ACLBegin      = "begin"
	ACLEnd        = "end"
	ACLStatus     = "status"
)

// ACLFields lists the fields exposed by ecm:acl/*N.
var ACLFields = []string{ACLName, ACLPrincipal, ACLPermission, ACLGrant, ACLCreator, ACLBegin, ACLEnd, ACLStatus}

// AttrKind is the value kind of a system attribute.
type AttrKind int

const (
	AttrString AttrKind = iota + 1
	AttrBool
	AttrInt
	AttrTime
)

// Attribute describes a system attribute.
type Attribute struct {
	Name string
	Kind AttrKind

	// ListValued attributes compare with any-element semantics.
	ListValued bool

	// PredicateOnly attributes cannot be projected or ordered on.
	PredicateOnly bool

	// FromTarget attributes are read from the target of a proxy.
	FromTarget bool

	// Column is the pushdown column for Equals/In, or "".
	Column string
}

var attributes = map[string]Attribute{
	UUID:                 {Name: UUID, Kind: AttrString, Column: ColumnID},
	ParentID:             {Name: ParentID, Kind: AttrString, Column: ColumnParentID},
	Name:                 {Name: Name, Kind: AttrString, Column: ColumnName},
	Path:                 {Name: Path, Kind: AttrString},
	PrimaryType:          {Name: PrimaryType, Kind: AttrString, Column: ColumnType},
	MixinType:            {Name: MixinType, Kind: AttrString, ListValued: true, FromTarget: true},
	IsProxy:              {Name: IsProxy, Kind: AttrBool},
	IsVersion:            {Name: IsVersion, Kind: AttrBool},
	IsCheckedIn:          {Name: IsCheckedIn, Kind: AttrBool, FromTarget: true},
	IsLatestVersion:      {Name: IsLatestVersion, Kind: AttrBool, FromTarget: true},
	IsLatestMajorVersion: {Name: IsLatestMajorVersion, Kind: AttrBool, FromTarget: true},
	VersionLabel:         {Name: VersionLabel, Kind: AttrString, FromTarget: true},
	VersionDescription:   {Name: VersionDescription, Kind: AttrString, FromTarget: true},
	VersionCreated:       {Name: VersionCreated, Kind: AttrTime, FromTarget: true},
	VersionVersionableID: {Name: VersionVersionableID, Kind: AttrString, Column: ColumnSeriesID},
	ProxyTargetID:        {Name: ProxyTargetID, Kind: AttrString, Column: ColumnTargetID},
	LifeCycleState:       {Name: LifeCycleState, Kind: AttrString, Column: ColumnLifecycle, FromTarget: true},
	LockOwner:            {Name: LockOwner, Kind: AttrString, FromTarget: true},
	LockCreated:          {Name: LockCreated, Kind: AttrTime, FromTarget: true},
	ChangeToken:          {Name: ChangeToken, Kind: AttrInt},
	AncestorID:           {Name: AncestorID, Kind: AttrString, ListValued: true, PredicateOnly: true},
	FulltextAttr:         {Name: FulltextAttr, Kind: AttrString, PredicateOnly: true},
}

// LookupAttribute returns the system attribute named name.
func LookupAttribute(name string) (Attribute, bool) {
	a, ok := attributes[name]
	return a, ok
}

// IsSystemRef reports whether ref is in the ecm: namespace.
func IsSystemRef(ref string) bool {
	return strings.HasPrefix(ref, "ecm:")
}
