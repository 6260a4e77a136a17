package security

import "github.com/roach88/nxdoc/internal/model"

// Fine-grained permissions implied by Read and Write.
const (
	ReadProperties  = "ReadProperties"
	ReadChildren    = "ReadChildren"
	ReadVersion     = "ReadVersion"
	ReadSecurity    = "ReadSecurity"
	ReadLifeCycle   = "ReadLifeCycle"
	AddChildren     = "AddChildren"
	RemoveChildren  = "RemoveChildren"
	Remove          = "Remove"
	WriteProperties = "WriteProperties"
	WriteSecurity   = "WriteSecurity"
	WriteLifeCycle  = "WriteLifeCycle"
	WriteVersion    = "WriteVersion"
	Version         = "Version"
)

// subPermissions maps a compound permission to the permissions it directly
// contains.
var subPermissions = map[string][]string{
	model.Everything: {model.ReadWrite},
	model.ReadWrite:  {model.Read, model.Write},
	model.Read: {
		model.Browse, ReadProperties, ReadChildren, ReadVersion, ReadSecurity, ReadLifeCycle,
	},
	model.Write: {
		AddChildren, RemoveChildren, Remove, WriteProperties, WriteSecurity,
		WriteLifeCycle, WriteVersion, Version,
	},
}

// Implies reports whether holding granted also grants requested.
func Implies(granted, requested string) bool {
	if granted == requested {
		return true
	}
	for _, sub := range subPermissions[granted] {
		if Implies(sub, requested) {
			return true
		}
	}
	return false
}
