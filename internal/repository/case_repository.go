package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casedesk/case-service/internal/domain"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// CaseFilter narrows case listings. Zero values mean "no constraint";
// Limit <= 0 returns every matching row.
type CaseFilter struct {
	InstitutionID  *int64
	AssignedTo     *int64
	UnassignedOnly bool
	IDs            []int64
	Limit          int
}

// CaseRepository is the mutation gateway for case rows.
type CaseRepository interface {
	List(ctx context.Context, filter CaseFilter) ([]domain.Case, error)
	GetByID(ctx context.Context, id int64) (*domain.Case, error)
	Update(ctx context.Context, id int64, patch domain.CasePatch) error
	// AssignIfUnassigned sets the assignee only when the case has none and
	// reports whether this call won.
	AssignIfUnassigned(ctx context.Context, id, operatorID int64, assigneeName string) (bool, error)
	Delete(ctx context.Context, id int64) error
	CountAssigned(ctx context.Context, institutionID, operatorID int64) (int, error)
}

const caseColumns = `id, institution_id, case_number, customer_name, customer_phone, channel_phone,
               conversation, summary, testimony, notes, triaged, proposal_sent, contract_signed,
               assigned_to, assignee_name, department_id, source, created_by_id, created_by_name,
               lawsuit_number, lawsuit_summary, lawsuit_active, external_case_ref, monetary_value,
               outcome, created_at, updated_at`

type caseRepository struct {
	pool *pgxpool.Pool
}

// NewCaseRepository instantiates the Postgres repository.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{pool: pool}
}

func (r *caseRepository) List(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.InstitutionID != nil {
		args = append(args, *filter.InstitutionID)
		clauses = append(clauses, fmt.Sprintf("institution_id=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if filter.UnassignedOnly {
		clauses = append(clauses, "(assigned_to IS NULL OR assigned_to = 0)")
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM cases WHERE %s ORDER BY id ASC`, caseColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (r *caseRepository) GetByID(ctx context.Context, id int64) (*domain.Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases WHERE id=$1`, caseColumns)
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cases, err := scanCases(rows)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &cases[0], nil
}

func (r *caseRepository) Update(ctx context.Context, id int64, patch domain.CasePatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		args = append(args, cols[name])
		sets = append(sets, fmt.Sprintf("%s=$%d", name, len(args)))
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE cases SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *caseRepository) AssignIfUnassigned(ctx context.Context, id, operatorID int64, assigneeName string) (bool, error) {
	const query = `
        UPDATE cases SET assigned_to=$1, assignee_name=$2, updated_at=NOW()
        WHERE id=$3 AND (assigned_to IS NULL OR assigned_to = 0)`
	cmd, err := r.pool.Exec(ctx, query, operatorID, assigneeName, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *caseRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM cases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *caseRepository) CountAssigned(ctx context.Context, institutionID, operatorID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM cases WHERE institution_id=$1 AND assigned_to=$2`
	var count int
	if err := r.pool.QueryRow(ctx, query, institutionID, operatorID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanCases(rows pgx.Rows) ([]domain.Case, error) {
	var result []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(
			&c.ID,
			&c.InstitutionID,
			&c.CaseNumber,
			&c.CustomerName,
			&c.CustomerPhone,
			&c.ChannelPhone,
			&c.Conversation,
			&c.Summary,
			&c.Testimony,
			&c.Notes,
			&c.Triaged,
			&c.ProposalSent,
			&c.ContractSigned,
			&c.AssignedTo,
			&c.AssigneeName,
			&c.DepartmentID,
			&c.Source,
			&c.CreatedByID,
			&c.CreatedByName,
			&c.LawsuitNumber,
			&c.LawsuitSummary,
			&c.LawsuitActive,
			&c.ExternalCaseRef,
			&c.MonetaryValue,
			&c.Outcome,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	return err
}
