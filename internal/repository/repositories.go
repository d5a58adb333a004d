package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories bundles every store the services consume. A single backend
// provides all of them; see persistence.OpenStore.
type Repositories struct {
	Cases       CaseRepository
	Messages    MessageRepository
	Queue       QueueRepository
	Operators   OperatorRepository
	Departments DepartmentRepository
}

// NewPostgresRepositories wires the pgx-backed implementations.
func NewPostgresRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Cases:       NewCaseRepository(pool),
		Messages:    NewMessageRepository(pool),
		Queue:       NewQueueRepository(pool),
		Operators:   NewOperatorRepository(pool),
		Departments: NewDepartmentRepository(pool),
	}
}
