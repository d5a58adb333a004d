package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/tabular"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

const (
	tableCases             = "cases"
	tableMessages          = "case_messages"
	tableQueue             = "assignment_queue"
	tableOperators         = "operators"
	tableDepartments       = "departments"
	tableDepartmentMembers = "department_members"
)

// NewRestRepositories wires implementations over the hosted tabular store.
func NewRestRepositories(client *tabular.Client) *Repositories {
	return &Repositories{
		Cases:       &restCaseRepository{client: client},
		Messages:    &restMessageRepository{client: client},
		Queue:       &restQueueRepository{client: client},
		Operators:   &restOperatorRepository{client: client},
		Departments: &restDepartmentRepository{client: client},
	}
}

type caseRow struct {
	ID              int64      `json:"id"`
	InstitutionID   int64      `json:"institution_id"`
	CaseNumber      *string    `json:"case_number"`
	CustomerName    *string    `json:"customer_name"`
	CustomerPhone   *string    `json:"customer_phone"`
	ChannelPhone    *string    `json:"channel_phone"`
	Conversation    *string    `json:"conversation"`
	Summary         *string    `json:"summary"`
	Testimony       *string    `json:"testimony"`
	Notes           *string    `json:"notes"`
	Triaged         *bool      `json:"triaged"`
	ProposalSent    *bool      `json:"proposal_sent"`
	ContractSigned  *bool      `json:"contract_signed"`
	AssignedTo      *int64     `json:"assigned_to"`
	AssigneeName    *string    `json:"assignee_name"`
	DepartmentID    *int64     `json:"department_id"`
	Source          *string    `json:"source"`
	CreatedByID     *int64     `json:"created_by_id"`
	CreatedByName   *string    `json:"created_by_name"`
	LawsuitNumber   *string    `json:"lawsuit_number"`
	LawsuitSummary  *string    `json:"lawsuit_summary"`
	LawsuitActive   *bool      `json:"lawsuit_active"`
	ExternalCaseRef *string    `json:"external_case_ref"`
	MonetaryValue   *float64   `json:"monetary_value"`
	Outcome         *string    `json:"outcome"`
	CreatedAt       *time.Time `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

func (r caseRow) toDomain() domain.Case {
	c := domain.Case{
		ID:              r.ID,
		InstitutionID:   r.InstitutionID,
		CaseNumber:      str(r.CaseNumber),
		CustomerName:    str(r.CustomerName),
		CustomerPhone:   str(r.CustomerPhone),
		ChannelPhone:    str(r.ChannelPhone),
		Conversation:    str(r.Conversation),
		Summary:         str(r.Summary),
		Testimony:       str(r.Testimony),
		Notes:           str(r.Notes),
		Triaged:         r.Triaged != nil && *r.Triaged,
		ProposalSent:    r.ProposalSent != nil && *r.ProposalSent,
		ContractSigned:  r.ContractSigned != nil && *r.ContractSigned,
		AssignedTo:      r.AssignedTo,
		AssigneeName:    str(r.AssigneeName),
		DepartmentID:    r.DepartmentID,
		Source:          domain.CaseSource(str(r.Source)),
		CreatedByID:     r.CreatedByID,
		CreatedByName:   str(r.CreatedByName),
		LawsuitNumber:   str(r.LawsuitNumber),
		LawsuitSummary:  str(r.LawsuitSummary),
		LawsuitActive:   r.LawsuitActive,
		ExternalCaseRef: str(r.ExternalCaseRef),
		MonetaryValue:   r.MonetaryValue,
		Outcome:         str(r.Outcome),
	}
	if r.CreatedAt != nil {
		c.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		c.UpdatedAt = *r.UpdatedAt
	}
	return c
}

type restCaseRepository struct {
	client *tabular.Client
}

func (r *restCaseRepository) List(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	var filters []tabular.Filter
	if filter.InstitutionID != nil {
		filters = append(filters, tabular.Eq("institution_id", *filter.InstitutionID))
	}
	if filter.AssignedTo != nil {
		filters = append(filters, tabular.Eq("assigned_to", *filter.AssignedTo))
	}
	if filter.UnassignedOnly {
		filters = append(filters, tabular.Or("assigned_to.is.null", "assigned_to.eq.0"))
	}
	if len(filter.IDs) > 0 {
		filters = append(filters, tabular.In("id", filter.IDs))
	}
	var rows []caseRow
	if err := r.client.Select(ctx, tableCases, filters, "id.asc", filter.Limit, &rows); err != nil {
		return nil, err
	}
	result := make([]domain.Case, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (r *restCaseRepository) GetByID(ctx context.Context, id int64) (*domain.Case, error) {
	var rows []caseRow
	if err := r.client.Select(ctx, tableCases, []tabular.Filter{tabular.Eq("id", id)}, "", 1, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrNotFound
	}
	c := rows[0].toDomain()
	return &c, nil
}

func (r *restCaseRepository) Update(ctx context.Context, id int64, patch domain.CasePatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = time.Now().UTC()
	n, err := r.client.Update(ctx, tableCases, []tabular.Filter{tabular.Eq("id", id)}, cols)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// AssignIfUnassigned relies on the store evaluating the filter and the patch
// in one statement, so the assignee predicate doubles as the compare step.
func (r *restCaseRepository) AssignIfUnassigned(ctx context.Context, id, operatorID int64, assigneeName string) (bool, error) {
	filters := []tabular.Filter{
		tabular.Eq("id", id),
		tabular.Or("assigned_to.is.null", "assigned_to.eq.0"),
	}
	n, err := r.client.Update(ctx, tableCases, filters, map[string]any{
		"assigned_to":   operatorID,
		"assignee_name": assigneeName,
		"updated_at":    time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *restCaseRepository) Delete(ctx context.Context, id int64) error {
	n, err := r.client.Delete(ctx, tableCases, []tabular.Filter{tabular.Eq("id", id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *restCaseRepository) CountAssigned(ctx context.Context, institutionID, operatorID int64) (int, error) {
	return r.client.Count(ctx, tableCases, []tabular.Filter{
		tabular.Eq("institution_id", institutionID),
		tabular.Eq("assigned_to", operatorID),
	})
}

type messageRow struct {
	ID             string     `json:"id"`
	CaseIdentifier string     `json:"case_identifier"`
	Sender         string     `json:"sender"`
	AuthorName     *string    `json:"author_name"`
	Body           *string    `json:"body"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

type restMessageRepository struct {
	client *tabular.Client
}

func (r *restMessageRepository) Create(ctx context.Context, msg *domain.CaseMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return r.client.Insert(ctx, tableMessages, messageRow{
		ID:             msg.ID,
		CaseIdentifier: msg.CaseIdentifier,
		Sender:         string(msg.Sender),
		AuthorName:     &msg.AuthorName,
		Body:           &msg.Body,
		CreatedAt:      &msg.CreatedAt,
	})
}

func (r *restMessageRepository) ListByCaseIdentifier(ctx context.Context, identifier string) ([]domain.CaseMessage, error) {
	var rows []messageRow
	if err := r.client.Select(ctx, tableMessages, []tabular.Filter{tabular.Eq("case_identifier", identifier)}, "created_at.asc,id.asc", 0, &rows); err != nil {
		return nil, err
	}
	result := make([]domain.CaseMessage, 0, len(rows))
	for _, row := range rows {
		msg := domain.CaseMessage{
			ID:             row.ID,
			CaseIdentifier: row.CaseIdentifier,
			Sender:         domain.MessageSender(row.Sender),
			AuthorName:     str(row.AuthorName),
			Body:           str(row.Body),
		}
		if row.CreatedAt != nil {
			msg.CreatedAt = *row.CreatedAt
		}
		result = append(result, msg)
	}
	return result, nil
}

func (r *restMessageRepository) CountByCaseIdentifier(ctx context.Context, identifier string) (int, error) {
	return r.client.Count(ctx, tableMessages, []tabular.Filter{tabular.Eq("case_identifier", identifier)})
}

func (r *restMessageRepository) UpdateCaseIdentifier(ctx context.Context, messageID, identifier string) error {
	n, err := r.client.Update(ctx, tableMessages, []tabular.Filter{tabular.Eq("id", messageID)}, map[string]any{
		"case_identifier": identifier,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

type queueRow struct {
	OperatorID      int64   `json:"operator_id"`
	InstitutionID   int64   `json:"institution_id"`
	LastAssignedAt  *string `json:"last_assigned_at"`
	AssignmentCount int     `json:"assignment_count"`
}

type restQueueRepository struct {
	client *tabular.Client
}

func (r *restQueueRepository) ListByInstitution(ctx context.Context, institutionID int64) ([]domain.QueueRecord, error) {
	var rows []queueRow
	if err := r.client.Select(ctx, tableQueue, []tabular.Filter{tabular.Eq("institution_id", institutionID)}, "operator_id.asc", 0, &rows); err != nil {
		return nil, err
	}
	result := make([]domain.QueueRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.QueueRecord{
			OperatorID:      row.OperatorID,
			InstitutionID:   row.InstitutionID,
			LastAssignedAt:  str(row.LastAssignedAt),
			AssignmentCount: row.AssignmentCount,
		})
	}
	return result, nil
}

// RecordAssignments reads the current count before writing; the store has no
// atomic increment, so concurrent writers may lose an increment.
func (r *restQueueRepository) RecordAssignments(ctx context.Context, institutionID, operatorID int64, count int, at string) error {
	var rows []queueRow
	filters := []tabular.Filter{
		tabular.Eq("institution_id", institutionID),
		tabular.Eq("operator_id", operatorID),
	}
	if err := r.client.Select(ctx, tableQueue, filters, "", 1, &rows); err != nil {
		return err
	}
	current := 0
	if len(rows) > 0 {
		current = rows[0].AssignmentCount
	}
	return r.client.Upsert(ctx, tableQueue, queueRow{
		OperatorID:      operatorID,
		InstitutionID:   institutionID,
		LastAssignedAt:  &at,
		AssignmentCount: current + count,
	}, "operator_id,institution_id")
}

type operatorRow struct {
	ID            int64      `json:"id"`
	InstitutionID int64      `json:"institution_id"`
	Name          *string    `json:"name"`
	Email         *string    `json:"email"`
	Role          *string    `json:"role"`
	Active        *bool      `json:"active_flag"`
	QueueEligible *bool      `json:"queue_eligible"`
	CreatedAt     *time.Time `json:"created_at"`
}

func (r operatorRow) toDomain() domain.Operator {
	op := domain.Operator{
		ID:            r.ID,
		InstitutionID: r.InstitutionID,
		Name:          str(r.Name),
		Email:         str(r.Email),
		Role:          domain.OperatorRole(str(r.Role)),
		Active:        r.Active != nil && *r.Active,
		QueueEligible: r.QueueEligible != nil && *r.QueueEligible,
	}
	if r.CreatedAt != nil {
		op.CreatedAt = *r.CreatedAt
	}
	return op
}

type restOperatorRepository struct {
	client *tabular.Client
}

func (r *restOperatorRepository) GetByID(ctx context.Context, id int64) (*domain.Operator, error) {
	var rows []operatorRow
	if err := r.client.Select(ctx, tableOperators, []tabular.Filter{tabular.Eq("id", id)}, "", 1, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrNotFound
	}
	op := rows[0].toDomain()
	return &op, nil
}

func (r *restOperatorRepository) List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error) {
	var filters []tabular.Filter
	if filter.InstitutionID != nil {
		filters = append(filters, tabular.Eq("institution_id", *filter.InstitutionID))
	}
	if filter.Active != nil {
		filters = append(filters, tabular.Eq("active_flag", *filter.Active))
	}
	if filter.QueueEligible != nil {
		filters = append(filters, tabular.Eq("queue_eligible", *filter.QueueEligible))
	}
	var rows []operatorRow
	if err := r.client.Select(ctx, tableOperators, filters, "id.asc", 0, &rows); err != nil {
		return nil, err
	}
	result := make([]domain.Operator, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

type restDepartmentRepository struct {
	client *tabular.Client
}

func (r *restDepartmentRepository) GetByID(ctx context.Context, id int64) (*domain.Department, error) {
	var rows []struct {
		ID            int64   `json:"id"`
		InstitutionID int64   `json:"institution_id"`
		Name          *string `json:"name"`
		IsActive      *bool   `json:"is_active"`
	}
	if err := r.client.Select(ctx, tableDepartments, []tabular.Filter{tabular.Eq("id", id)}, "", 1, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &domain.Department{
		ID:            rows[0].ID,
		InstitutionID: rows[0].InstitutionID,
		Name:          str(rows[0].Name),
		IsActive:      rows[0].IsActive == nil || *rows[0].IsActive,
	}, nil
}

func (r *restDepartmentRepository) IsMember(ctx context.Context, departmentID, operatorID int64) (bool, error) {
	n, err := r.client.Count(ctx, tableDepartmentMembers, []tabular.Filter{
		tabular.Eq("department_id", departmentID),
		tabular.Eq("operator_id", operatorID),
	})
	if err != nil {
		var apiErr *tabular.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
