package security

import (
	"slices"
	"strings"

	"github.com/roach88/nxdoc/internal/model"
)

// Principal is the identity a session acts as.
type Principal struct {
	Name   string
	Groups []string

	// Administrator principals bypass ACL evaluation.
	Administrator bool
}

// System is the administrator principal used by internal maintenance
// such as the orphan version cleanup.
var System = Principal{Name: "system", Administrator: true}

// Matches reports whether an ACE for principal applies to p.
func (p Principal) Matches(principal string) bool {
	return principal == model.Everyone || principal == p.Name || slices.Contains(p.Groups, principal)
}

func (p Principal) key() string {
	groups := slices.Clone(p.Groups)
	slices.Sort(groups)
	var b strings.Builder
	b.WriteString(p.Name)
	for _, g := range groups {
		b.WriteByte(0)
		b.WriteString(g)
	}
	if p.Administrator {
		b.WriteString("\x00!")
	}
	return b.String()
}
