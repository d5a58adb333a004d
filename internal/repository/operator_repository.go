package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casedesk/case-service/internal/domain"
)

// OperatorRepository reads operators.
type OperatorRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Operator, error)
	List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error)
}

// OperatorFilter defines query params for operator listing.
type OperatorFilter struct {
	InstitutionID *int64
	Active        *bool
	QueueEligible *bool
}

type operatorRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorRepository instantiates the repository.
func NewOperatorRepository(pool *pgxpool.Pool) OperatorRepository {
	return &operatorRepository{pool: pool}
}

func (r *operatorRepository) GetByID(ctx context.Context, id int64) (*domain.Operator, error) {
	const query = `
        SELECT id, institution_id, name, email, role, active_flag, queue_eligible, created_at
        FROM operators WHERE id=$1`

	var op domain.Operator
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&op.ID,
		&op.InstitutionID,
		&op.Name,
		&op.Email,
		&op.Role,
		&op.Active,
		&op.QueueEligible,
		&op.CreatedAt,
	); err != nil {
		return nil, notFoundOr(err)
	}
	return &op, nil
}

func (r *operatorRepository) List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error) {
	query := `
        SELECT id, institution_id, name, email, role, active_flag, queue_eligible, created_at
        FROM operators`
	args := []any{}
	clauses := []string{}

	if filter.InstitutionID != nil {
		args = append(args, *filter.InstitutionID)
		clauses = append(clauses, fmt.Sprintf("institution_id=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active_flag=$%d", len(args)))
	}
	if filter.QueueEligible != nil {
		args = append(args, *filter.QueueEligible)
		clauses = append(clauses, fmt.Sprintf("queue_eligible=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Operator
	for rows.Next() {
		var op domain.Operator
		if err := rows.Scan(
			&op.ID,
			&op.InstitutionID,
			&op.Name,
			&op.Email,
			&op.Role,
			&op.Active,
			&op.QueueEligible,
			&op.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}
