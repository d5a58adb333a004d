package domain

import (
	"strconv"
	"strings"
	"time"
)

// SuperadminInstitutionID is the institution whose members may act on every tenant.
const SuperadminInstitutionID int64 = 4

// CaseSource records how a case entered the system.
type CaseSource string

const (
	CaseSourceChannel CaseSource = "CHANNEL"
	CaseSourceManual  CaseSource = "MANUAL"
)

// Case is a tracked customer contact and the unit of assignment and merge.
type Case struct {
	ID            int64
	InstitutionID int64
	CaseNumber    string
	CustomerName  string
	CustomerPhone string
	ChannelPhone  string

	Conversation string
	Summary      string
	Testimony    string
	Notes        string

	Triaged        bool
	ProposalSent   bool
	ContractSigned bool

	AssignedTo   *int64
	AssigneeName string
	DepartmentID *int64

	Source        CaseSource
	CreatedByID   *int64
	CreatedByName string

	LawsuitNumber   string
	LawsuitSummary  string
	LawsuitActive   *bool
	ExternalCaseRef string
	MonetaryValue   *float64
	Outcome         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BusinessIdentifier is the key messages use to reference the case.
func (c *Case) BusinessIdentifier() string {
	if number := strings.TrimSpace(c.CaseNumber); number != "" {
		return number
	}
	return strconv.FormatInt(c.ID, 10)
}

// IsAssigned reports whether an operator currently owns the case.
func (c *Case) IsAssigned() bool {
	return c.AssignedTo != nil && *c.AssignedTo != 0
}

// CasePatch is a partial update; nil fields are left untouched.
type CasePatch struct {
	Conversation    *string
	Notes           *string
	Testimony       *string
	Summary         *string
	MonetaryValue   *float64
	Outcome         *string
	LawsuitNumber   *string
	LawsuitSummary  *string
	LawsuitActive   *bool
	ExternalCaseRef *string
}

// IsEmpty reports whether the patch would change nothing.
func (p CasePatch) IsEmpty() bool {
	return p.Conversation == nil &&
		p.Notes == nil &&
		p.Testimony == nil &&
		p.Summary == nil &&
		p.MonetaryValue == nil &&
		p.Outcome == nil &&
		p.LawsuitNumber == nil &&
		p.LawsuitSummary == nil &&
		p.LawsuitActive == nil &&
		p.ExternalCaseRef == nil
}

// Apply copies the set fields of the patch onto c.
func (p CasePatch) Apply(c *Case) {
	if p.Conversation != nil {
		c.Conversation = *p.Conversation
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.Testimony != nil {
		c.Testimony = *p.Testimony
	}
	if p.Summary != nil {
		c.Summary = *p.Summary
	}
	if p.MonetaryValue != nil {
		v := *p.MonetaryValue
		c.MonetaryValue = &v
	}
	if p.Outcome != nil {
		c.Outcome = *p.Outcome
	}
	if p.LawsuitNumber != nil {
		c.LawsuitNumber = *p.LawsuitNumber
	}
	if p.LawsuitSummary != nil {
		c.LawsuitSummary = *p.LawsuitSummary
	}
	if p.LawsuitActive != nil {
		v := *p.LawsuitActive
		c.LawsuitActive = &v
	}
	if p.ExternalCaseRef != nil {
		c.ExternalCaseRef = *p.ExternalCaseRef
	}
}

// Columns maps the set fields to their storage column names.
func (p CasePatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Conversation != nil {
		cols["conversation"] = *p.Conversation
	}
	if p.Notes != nil {
		cols["notes"] = *p.Notes
	}
	if p.Testimony != nil {
		cols["testimony"] = *p.Testimony
	}
	if p.Summary != nil {
		cols["summary"] = *p.Summary
	}
	if p.MonetaryValue != nil {
		cols["monetary_value"] = *p.MonetaryValue
	}
	if p.Outcome != nil {
		cols["outcome"] = *p.Outcome
	}
	if p.LawsuitNumber != nil {
		cols["lawsuit_number"] = *p.LawsuitNumber
	}
	if p.LawsuitSummary != nil {
		cols["lawsuit_summary"] = *p.LawsuitSummary
	}
	if p.LawsuitActive != nil {
		cols["lawsuit_active"] = *p.LawsuitActive
	}
	if p.ExternalCaseRef != nil {
		cols["external_case_ref"] = *p.ExternalCaseRef
	}
	return cols
}
