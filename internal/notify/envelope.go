// Package notify delivers assignment notifications to systems outside the
// case store: a broker topic and the transfer webhook.
package notify

import "time"

// Meta describes an outbound event.
type Meta struct {
	CorrelationID *string   `json:"correlation_id,omitempty"`
	ID            string    `json:"id"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	// Type is the event name and version, e.g. cases.assigned.v1.
	Type string `json:"type"`
}

// Envelope wraps every payload published by this service.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// TransferNotice is the body of the transfer webhook and the data of the
// cases.assigned.v1 event.
type TransferNotice struct {
	InstitutionID  int64  `json:"institution_id"`
	CaseID         int64  `json:"case_id"`
	CaseIdentifier string `json:"case_identifier"`
	AssigneeID     int64  `json:"assignee_id"`
	AssigneeName   string `json:"assignee_name"`
	PreviousName   string `json:"previous_assignee_name,omitempty"`
	CustomerName   string `json:"customer_name"`
	CustomerPhone  string `json:"customer_phone"`
	ChannelPhone   string `json:"channel_phone"`
	Source         string `json:"source"`
	AssignedAt     string `json:"assigned_at"`
}
