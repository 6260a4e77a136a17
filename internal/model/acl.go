package model

import "time"

// Well-known principals, permissions and ACL names.
const (
	Everyone = "Everyone"

	Everything = "Everything"
	ReadWrite  = "ReadWrite"
	Read       = "Read"
	Write      = "Write"
	Browse     = "Browse"

	LocalACL     = "local"
	InheritedACL = "inherited"
)

// ACEStatus is the validity state of an ACE relative to a point in time.
type ACEStatus int

const (
	// ACEPending: Begin is in the future.
	ACEPending ACEStatus = 0
	// ACEEffective: currently applies.
	ACEEffective ACEStatus = 1
	// ACEArchived: End is in the past.
	ACEArchived ACEStatus = 2
)

// ACE is an access control entry.
type ACE struct {
	Principal  string     `json:"principal"`
	Permission string     `json:"permission"`
	Grant      bool       `json:"grant"`
	Creator    string     `json:"creator,omitempty"`
	Begin      *time.Time `json:"begin,omitempty"`
	End        *time.Time `json:"end,omitempty"`
}

// BlockACE returns the synthetic deny-all entry that stops inheritance.
func BlockACE() ACE {
	return ACE{Principal: Everyone, Permission: Everything, Grant: false}
}

// GrantACE builds a granting ACE.
func GrantACE(principal, permission string) ACE {
	return ACE{Principal: principal, Permission: permission, Grant: true}
}

// DenyACE builds a denying ACE.
func DenyACE(principal, permission string) ACE {
	return ACE{Principal: principal, Permission: permission, Grant: false}
}

// IsBlock reports whether the entry is the inheritance-blocking deny.
func (a ACE) IsBlock() bool {
	return !a.Grant && a.Principal == Everyone && a.Permission == Everything
}

// Status computes the ACE validity state at now.
func (a ACE) Status(now time.Time) ACEStatus {
	if a.Begin != nil && now.Before(*a.Begin) {
		return ACEPending
	}
	if a.End != nil && !now.Before(*a.End) {
		return ACEArchived
	}
	return ACEEffective
}

// ACL is a named, ordered list of entries.
type ACL struct {
	Name    string `json:"name"`
	Entries []ACE  `json:"entries"`
}

// ACP is the ordered list of ACLs held by one document.
type ACP []ACL

// Clone returns a deep copy.
func (p ACP) Clone() ACP {
	if p == nil {
		return nil
	}
	out := make(ACP, len(p))
	for i, acl := range p {
		out[i] = ACL{Name: acl.Name, Entries: append([]ACE(nil), acl.Entries...)}
	}
	return out
}

// Get returns the ACL with the given name, or nil.
func (p ACP) Get(name string) *ACL {
	for i := range p {
		if p[i].Name == name {
			return &p[i]
		}
	}
	return nil
}

// WithACL returns a copy of p where the named ACL is replaced (or added).
// The local ACL is always kept first.
func (p ACP) WithACL(acl ACL) ACP {
	out := p.Clone()
	for i := range out {
		if out[i].Name == acl.Name {
			out[i] = acl
			return out
		}
	}
	if acl.Name == LocalACL {
		return append(ACP{acl}, out...)
	}
	return append(out, acl)
}

// FlatEntry is one ACE together with the name of the ACL holding it.
type FlatEntry struct {
	ACLName string
	ACE
}

// Flatten lists every ACE in evaluation order.
func (p ACP) Flatten() []FlatEntry {
	var out []FlatEntry
	for _, acl := range p {
		for _, ace := range acl.Entries {
			out = append(out, FlatEntry{ACLName: acl.Name, ACE: ace})
		}
	}
	return out
}
