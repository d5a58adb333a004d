package domain

import "time"

// MessageSender indicates who produced a conversation message.
type MessageSender string

const (
	SenderCustomer MessageSender = "CUSTOMER"
	SenderOperator MessageSender = "OPERATOR"
	SenderSystem   MessageSender = "SYSTEM"
)

// CaseMessage is one entry of a case conversation. CaseIdentifier holds the
// owning case's business identifier, not its row id.
type CaseMessage struct {
	ID             string
	CaseIdentifier string
	Sender         MessageSender
	AuthorName     string
	Body           string
	CreatedAt      time.Time
}
