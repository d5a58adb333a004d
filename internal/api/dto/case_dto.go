package dto

import (
	"time"

	"github.com/casedesk/case-service/internal/domain"
)

// MergeRequest payload for POST /cases/merge.
type MergeRequest struct {
	InstitutionID int64 `json:"institutionId"`
	DryRun        bool  `json:"dryRun"`
}

// ClaimRequest payload for POST /cases/claim.
type ClaimRequest struct {
	CaseID int64 `json:"caseId"`
}

// BulkAssignRequest payload for POST /cases/bulk-assign.
type BulkAssignRequest struct {
	CaseIDs      []int64 `json:"caseIds"`
	TargetUserID int64   `json:"targetUserId"`
}

// CaseResponse is the public view of a case.
type CaseResponse struct {
	ID              int64             `json:"id"`
	InstitutionID   int64             `json:"institution_id"`
	CaseNumber      string            `json:"case_number"`
	Identifier      string            `json:"identifier"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone"`
	ChannelPhone    string            `json:"channel_phone"`
	Summary         string            `json:"summary"`
	Notes           string            `json:"notes"`
	Triaged         bool              `json:"triaged"`
	ProposalSent    bool              `json:"proposal_sent"`
	ContractSigned  bool              `json:"contract_signed"`
	AssignedTo      *int64            `json:"assigned_to"`
	AssigneeName    string            `json:"assignee_name"`
	DepartmentID    *int64            `json:"department_id"`
	Source          domain.CaseSource `json:"source"`
	LawsuitNumber   string            `json:"lawsuit_number,omitempty"`
	ExternalCaseRef string            `json:"external_case_ref,omitempty"`
	MonetaryValue   *float64          `json:"monetary_value,omitempty"`
	Outcome         string            `json:"outcome,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewCaseResponse maps a domain case.
func NewCaseResponse(c *domain.Case) CaseResponse {
	return CaseResponse{
		ID:              c.ID,
		InstitutionID:   c.InstitutionID,
		CaseNumber:      c.CaseNumber,
		Identifier:      c.BusinessIdentifier(),
		CustomerName:    c.CustomerName,
		CustomerPhone:   c.CustomerPhone,
		ChannelPhone:    c.ChannelPhone,
		Summary:         c.Summary,
		Notes:           c.Notes,
		Triaged:         c.Triaged,
		ProposalSent:    c.ProposalSent,
		ContractSigned:  c.ContractSigned,
		AssignedTo:      c.AssignedTo,
		AssigneeName:    c.AssigneeName,
		DepartmentID:    c.DepartmentID,
		Source:          c.Source,
		LawsuitNumber:   c.LawsuitNumber,
		ExternalCaseRef: c.ExternalCaseRef,
		MonetaryValue:   c.MonetaryValue,
		Outcome:         c.Outcome,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
