package domain

// QueueRecord is the persisted round robin state of one operator.
// LastAssignedAt is an RFC3339 UTC string so it sorts lexicographically.
type QueueRecord struct {
	OperatorID      int64
	InstitutionID   int64
	LastAssignedAt  string
	AssignmentCount int
}

// QueueMode decides whether operators pick cases themselves.
type QueueMode string

const (
	QueueModeManual QueueMode = "manual"
	QueueModeAuto   QueueMode = "auto"
)

// InstitutionSettings holds per-tenant switches.
type InstitutionSettings struct {
	InstitutionID    int64
	QueueMode        QueueMode
	AutoMergeEnabled bool
}
