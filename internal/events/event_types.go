package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseAssigned EventType = "case_assigned"
	EventCasesMerged  EventType = "cases_merged"
)

// AssignmentSource tells which flow produced an assignment.
type AssignmentSource string

const (
	AssignmentSourceClaim AssignmentSource = "claim"
	AssignmentSourceBulk  AssignmentSource = "bulk"
	AssignmentSourceQueue AssignmentSource = "queue"
)

// Actor identifies the operator behind an event; zero for system runs.
type Actor struct {
	OperatorID    int64 `json:"operator_id,omitempty"`
	InstitutionID int64 `json:"institution_id"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	InstitutionID int64       `json:"institution_id"`
	CaseID        int64       `json:"case_id,omitempty"`
	Actor         Actor       `json:"actor"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload"`
}

// CaseAssignedPayload payload.
type CaseAssignedPayload struct {
	CaseIdentifier string           `json:"case_identifier"`
	AssigneeID     int64            `json:"assignee_id"`
	AssigneeName   string           `json:"assignee_name"`
	PreviousName   string           `json:"previous_assignee_name,omitempty"`
	DepartmentID   *int64           `json:"department_id,omitempty"`
	CustomerName   string           `json:"customer_name"`
	CustomerPhone  string           `json:"customer_phone"`
	ChannelPhone   string           `json:"channel_phone"`
	Source         AssignmentSource `json:"source"`
}

// CasesMergedPayload payload.
type CasesMergedPayload struct {
	Groups           int  `json:"groups"`
	CasesDeleted     int  `json:"cases_deleted"`
	MessagesMigrated int  `json:"messages_migrated"`
	Automatic        bool `json:"automatic"`
}
