package domain

import "time"

// OperatorRole enumerates operator privileges.
type OperatorRole string

const (
	OperatorRoleAgent            OperatorRole = "agent"
	OperatorRoleOfficeAdmin      OperatorRole = "office_admin"
	OperatorRoleInstitutionAdmin OperatorRole = "institution_admin"
)

// Operator is a human user who handles cases.
type Operator struct {
	ID            int64
	InstitutionID int64
	Name          string
	Email         string
	Role          OperatorRole
	Active        bool
	QueueEligible bool
	CreatedAt     time.Time
}

// IsAdmin reports office or institution admin privilege.
func (o *Operator) IsAdmin() bool {
	if o == nil {
		return false
	}
	return o.Role == OperatorRoleOfficeAdmin || o.Role == OperatorRoleInstitutionAdmin
}
