package directory

import (
	"slices"

	"github.com/UnknownOlympus/themis/internal/models"
)

// Side is the ownership slot a directory role fills on a client.
type Side int

const (
	SideNone Side = iota
	SideDoc
	SideLaw
)

// RoleMap classifies directory role codes.
type RoleMap struct {
	Doc   []int // roles owning the documents side of a client
	Law   []int // roles owning the legal side of a client
	Admin []int // roles registered as administrators
}

// DefaultRoleMap returns the production role codes.
func DefaultRoleMap() RoleMap {
	return RoleMap{
		Doc:   []int{3, 8},
		Law:   []int{2, 31},
		Admin: []int{5, 17, 29, 30},
	}
}

// Side returns the ownership slot of roleID. Unmapped roles are ignored.
func (m RoleMap) Side(roleID int) Side {
	switch {
	case slices.Contains(m.Doc, roleID):
		return SideDoc
	case slices.Contains(m.Law, roleID):
		return SideLaw
	default:
		return SideNone
	}
}

// IsAdmin reports whether roleID registers as an administrator.
func (m RoleMap) IsAdmin(roleID int) bool {
	return slices.Contains(m.Admin, roleID)
}

// Link is an active client-to-employee assignment in the directory.
type Link struct {
	UserID int
	RoleID int
}

// MergeOwners is the ownership precedence rule. Each side is filled from the permanent links,
// then an active temporary transfer on the same side replaces it: a client in flight between
// two employees belongs to the receiving one. When several links land on one side the last wins.
func MergeOwners(permanent, temporary []Link, roles RoleMap) models.Owners {
	var owners models.Owners
	apply := func(links []Link) {
		for _, link := range links {
			id := link.UserID
			switch roles.Side(link.RoleID) {
			case SideDoc:
				owners.DocID = &id
			case SideLaw:
				owners.LawID = &id
			case SideNone:
			}
		}
	}
	apply(permanent)
	apply(temporary)
	return owners
}

// AuthorizeSubmit reports whether the employee may submit a client with the given owners.
func AuthorizeSubmit(kazarmaID int, owners models.Owners) bool {
	return owners.Has(kazarmaID)
}
