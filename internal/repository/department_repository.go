package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casedesk/case-service/internal/domain"
)

// DepartmentRepository reads departments and their membership.
type DepartmentRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Department, error)
	IsMember(ctx context.Context, departmentID, operatorID int64) (bool, error)
}

type departmentRepository struct {
	pool *pgxpool.Pool
}

// NewDepartmentRepository builds the repository.
func NewDepartmentRepository(pool *pgxpool.Pool) DepartmentRepository {
	return &departmentRepository{pool: pool}
}

func (r *departmentRepository) GetByID(ctx context.Context, id int64) (*domain.Department, error) {
	const query = `
        SELECT id, institution_id, name, is_active
        FROM departments WHERE id=$1`
	var dept domain.Department
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&dept.ID,
		&dept.InstitutionID,
		&dept.Name,
		&dept.IsActive,
	); err != nil {
		return nil, notFoundOr(err)
	}
	return &dept, nil
}

func (r *departmentRepository) IsMember(ctx context.Context, departmentID, operatorID int64) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM department_members WHERE department_id=$1 AND operator_id=$2
        )`
	var member bool
	if err := r.pool.QueryRow(ctx, query, departmentID, operatorID).Scan(&member); err != nil {
		return false, err
	}
	return member, nil
}
