package models

import (
	"strings"
	"time"
)

// Role is the capability class of a registered employee.
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

// Employee represents a registered bot user linked to a directory account.
type Employee struct {
	ID         int64     `json:"id"`          // Telegram id
	FullName   string    `json:"full_name"`   // Full name as stored in the directory
	KazarmaID  int       `json:"kazarma_id"`  // Directory (CRM) user id
	RoleID     int       `json:"role_id"`     // Directory role code
	RoleName   string    `json:"role_name"`   // Directory role title
	ClusterID  *int      `json:"cluster_id"`  // Team of the employee
	IsChecking bool      `json:"is_checking"` // Reviewer flag
	IsAdmin    bool      `json:"is_admin"`    // Administrator flag
	CreatedAt  time.Time `json:"created_at"`
}

// Role returns the effective role of the employee. Admin wins over reviewer.
func (e Employee) Role() Role {
	switch {
	case e.IsAdmin:
		return RoleAdmin
	case e.IsChecking:
		return RoleReviewer
	default:
		return RoleSubmitter
	}
}

// ShortName returns the given name from "Lastname Firstname Middlename".
func (e Employee) ShortName() string {
	parts := strings.Fields(e.FullName)
	if len(parts) > 1 {
		return parts[1]
	}
	return e.FullName
}

// Cluster is a submitter team.
type Cluster struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// StaffCandidate is a directory account found during registration.
type StaffCandidate struct {
	KazarmaID int    `json:"kazarma_id"`
	FullName  string `json:"full_name"`
	RoleID    int    `json:"role_id"`
	RoleName  string `json:"role_name"`
}
