package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casedesk/case-service/internal/domain"
)

// QueueRepository persists round robin state. Only the queue service writes it.
type QueueRepository interface {
	ListByInstitution(ctx context.Context, institutionID int64) ([]domain.QueueRecord, error)
	// RecordAssignments adds count to the operator's cumulative total and sets
	// its last assigned timestamp, creating the record on first use.
	RecordAssignments(ctx context.Context, institutionID, operatorID int64, count int, at string) error
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository builds the Postgres repository.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

func (r *queueRepository) ListByInstitution(ctx context.Context, institutionID int64) ([]domain.QueueRecord, error) {
	const query = `
        SELECT operator_id, institution_id, last_assigned_at, assignment_count
        FROM assignment_queue WHERE institution_id=$1`
	rows, err := r.pool.Query(ctx, query, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueRecord
	for rows.Next() {
		var rec domain.QueueRecord
		if err := rows.Scan(&rec.OperatorID, &rec.InstitutionID, &rec.LastAssignedAt, &rec.AssignmentCount); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *queueRepository) RecordAssignments(ctx context.Context, institutionID, operatorID int64, count int, at string) error {
	const query = `
        INSERT INTO assignment_queue (operator_id, institution_id, last_assigned_at, assignment_count)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (operator_id, institution_id)
        DO UPDATE SET last_assigned_at = EXCLUDED.last_assigned_at,
                      assignment_count = assignment_queue.assignment_count + EXCLUDED.assignment_count`
	_, err := r.pool.Exec(ctx, query, operatorID, institutionID, at, count)
	return err
}
