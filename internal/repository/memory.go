package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casedesk/case-service/internal/domain"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// Operation names accepted by MemoryState.FailOn.
const (
	OpGetCase       = "get_case"
	OpUpdateCase    = "update_case"
	OpDeleteCase    = "delete_case"
	OpUpdateMessage = "update_message"
	OpListMessages  = "list_messages"
	OpRecordQueue   = "record_queue"
	OpAssignCase    = "assign_case"
	OpCreateMessage = "create_message"
	failAnyKey      = "*"
)

type queueKey struct {
	institutionID int64
	operatorID    int64
}

type memberKey struct {
	departmentID int64
	operatorID   int64
}

// MemoryState is the shared in-process dataset behind the memory backend.
// Stored values are copied on the way in and out.
type MemoryState struct {
	mu          sync.Mutex
	cases       map[int64]domain.Case
	messages    map[string]domain.CaseMessage
	queue       map[queueKey]domain.QueueRecord
	operators   map[int64]domain.Operator
	departments map[int64]domain.Department
	members     map[memberKey]struct{}
	failures    map[string]map[string]error
}

// NewMemoryRepositories returns repositories sharing one MemoryState.
func NewMemoryRepositories() (*Repositories, *MemoryState) {
	state := &MemoryState{
		cases:       map[int64]domain.Case{},
		messages:    map[string]domain.CaseMessage{},
		queue:       map[queueKey]domain.QueueRecord{},
		operators:   map[int64]domain.Operator{},
		departments: map[int64]domain.Department{},
		members:     map[memberKey]struct{}{},
		failures:    map[string]map[string]error{},
	}
	return &Repositories{
		Cases:       &memoryCases{state: state},
		Messages:    &memoryMessages{state: state},
		Queue:       &memoryQueue{state: state},
		Operators:   &memoryOperators{state: state},
		Departments: &memoryDepartments{state: state},
	}, state
}

// PutCase inserts or replaces a case.
func (s *MemoryState) PutCase(c domain.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.cases[c.ID] = cloneCase(c)
}

// Case returns a copy of a stored case.
func (s *MemoryState) Case(id int64) (domain.Case, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	return cloneCase(c), ok
}

// PutMessage inserts or replaces a message, assigning an id when empty.
func (s *MemoryState) PutMessage(msg domain.CaseMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ID] = msg
	return msg.ID
}

// PutOperator inserts or replaces an operator.
func (s *MemoryState) PutOperator(op domain.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[op.ID] = op
}

// PutDepartment inserts or replaces a department.
func (s *MemoryState) PutDepartment(dept domain.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[dept.ID] = dept
}

// AddDepartmentMember records membership.
func (s *MemoryState) AddDepartmentMember(departmentID, operatorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey{departmentID: departmentID, operatorID: operatorID}] = struct{}{}
}

// PutQueueRecord seeds round robin state.
func (s *MemoryState) PutQueueRecord(rec domain.QueueRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[queueKey{institutionID: rec.InstitutionID, operatorID: rec.OperatorID}] = rec
}

// QueueRecord returns the stored record for an operator.
func (s *MemoryState) QueueRecord(institutionID, operatorID int64) (domain.QueueRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.queue[queueKey{institutionID: institutionID, operatorID: operatorID}]
	return rec, ok
}

// CaseCount returns the number of stored cases.
func (s *MemoryState) CaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cases)
}

// FailOn makes op fail with err for key (a case id, message id or "*").
func (s *MemoryState) FailOn(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[op] == nil {
		s.failures[op] = map[string]error{}
	}
	s.failures[op][key] = err
}

func (s *MemoryState) failure(op, key string) error {
	byKey := s.failures[op]
	if byKey == nil {
		return nil
	}
	if err, ok := byKey[key]; ok {
		return err
	}
	return byKey[failAnyKey]
}

type memoryCases struct {
	state *MemoryState
}

func (r *memoryCases) List(_ context.Context, filter CaseFilter) ([]domain.Case, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids map[int64]bool
	if len(filter.IDs) > 0 {
		ids = make(map[int64]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}
	result := []domain.Case{}
	for _, c := range s.cases {
		if filter.InstitutionID != nil && c.InstitutionID != *filter.InstitutionID {
			continue
		}
		if filter.AssignedTo != nil && (c.AssignedTo == nil || *c.AssignedTo != *filter.AssignedTo) {
			continue
		}
		if filter.UnassignedOnly && c.IsAssigned() {
			continue
		}
		if ids != nil && !ids[c.ID] {
			continue
		}
		result = append(result, cloneCase(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *memoryCases) GetByID(_ context.Context, id int64) (*domain.Case, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpGetCase, itoa(id)); err != nil {
		return nil, err
	}
	c, ok := s.cases[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := cloneCase(c)
	return &clone, nil
}

func (r *memoryCases) Update(_ context.Context, id int64, patch domain.CasePatch) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpUpdateCase, itoa(id)); err != nil {
		return err
	}
	c, ok := s.cases[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	patch.Apply(&c)
	c.UpdatedAt = time.Now().UTC()
	s.cases[id] = c
	return nil
}

func (r *memoryCases) AssignIfUnassigned(_ context.Context, id, operatorID int64, assigneeName string) (bool, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpAssignCase, itoa(id)); err != nil {
		return false, err
	}
	c, ok := s.cases[id]
	if !ok || c.IsAssigned() {
		return false, nil
	}
	assignee := operatorID
	c.AssignedTo = &assignee
	c.AssigneeName = assigneeName
	c.UpdatedAt = time.Now().UTC()
	s.cases[id] = c
	return true, nil
}

func (r *memoryCases) Delete(_ context.Context, id int64) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpDeleteCase, itoa(id)); err != nil {
		return err
	}
	if _, ok := s.cases[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(s.cases, id)
	return nil
}

func (r *memoryCases) CountAssigned(_ context.Context, institutionID, operatorID int64) (int, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.cases {
		if c.InstitutionID == institutionID && c.AssignedTo != nil && *c.AssignedTo == operatorID {
			count++
		}
	}
	return count, nil
}

type memoryMessages struct {
	state *MemoryState
}

func (r *memoryMessages) Create(_ context.Context, msg *domain.CaseMessage) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpCreateMessage, msg.CaseIdentifier); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ID] = *msg
	return nil
}

func (r *memoryMessages) ListByCaseIdentifier(_ context.Context, identifier string) ([]domain.CaseMessage, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpListMessages, identifier); err != nil {
		return nil, err
	}
	result := []domain.CaseMessage{}
	for _, msg := range s.messages {
		if msg.CaseIdentifier == identifier {
			result = append(result, msg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memoryMessages) CountByCaseIdentifier(_ context.Context, identifier string) (int, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.CaseIdentifier == identifier {
			count++
		}
	}
	return count, nil
}

func (r *memoryMessages) UpdateCaseIdentifier(_ context.Context, messageID, identifier string) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpUpdateMessage, messageID); err != nil {
		return err
	}
	msg, ok := s.messages[messageID]
	if !ok {
		return apperrors.ErrNotFound
	}
	msg.CaseIdentifier = identifier
	s.messages[messageID] = msg
	return nil
}

type memoryQueue struct {
	state *MemoryState
}

func (r *memoryQueue) ListByInstitution(_ context.Context, institutionID int64) ([]domain.QueueRecord, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []domain.QueueRecord{}
	for key, rec := range s.queue {
		if key.institutionID == institutionID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OperatorID < result[j].OperatorID })
	return result, nil
}

func (r *memoryQueue) RecordAssignments(_ context.Context, institutionID, operatorID int64, count int, at string) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpRecordQueue, itoa(operatorID)); err != nil {
		return err
	}
	key := queueKey{institutionID: institutionID, operatorID: operatorID}
	rec := s.queue[key]
	rec.OperatorID = operatorID
	rec.InstitutionID = institutionID
	rec.LastAssignedAt = at
	rec.AssignmentCount += count
	s.queue[key] = rec
	return nil
}

type memoryOperators struct {
	state *MemoryState
}

func (r *memoryOperators) GetByID(_ context.Context, id int64) (*domain.Operator, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &op, nil
}

func (r *memoryOperators) List(_ context.Context, filter OperatorFilter) ([]domain.Operator, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []domain.Operator{}
	for _, op := range s.operators {
		if filter.InstitutionID != nil && op.InstitutionID != *filter.InstitutionID {
			continue
		}
		if filter.Active != nil && op.Active != *filter.Active {
			continue
		}
		if filter.QueueEligible != nil && op.QueueEligible != *filter.QueueEligible {
			continue
		}
		result = append(result, op)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type memoryDepartments struct {
	state *MemoryState
}

func (r *memoryDepartments) GetByID(_ context.Context, id int64) (*domain.Department, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	dept, ok := s.departments[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &dept, nil
}

func (r *memoryDepartments) IsMember(_ context.Context, departmentID, operatorID int64) (bool, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[memberKey{departmentID: departmentID, operatorID: operatorID}]
	return ok, nil
}

func cloneCase(c domain.Case) domain.Case {
	if c.AssignedTo != nil {
		v := *c.AssignedTo
		c.AssignedTo = &v
	}
	if c.DepartmentID != nil {
		v := *c.DepartmentID
		c.DepartmentID = &v
	}
	if c.CreatedByID != nil {
		v := *c.CreatedByID
		c.CreatedByID = &v
	}
	if c.LawsuitActive != nil {
		v := *c.LawsuitActive
		c.LawsuitActive = &v
	}
	if c.MonetaryValue != nil {
		v := *c.MonetaryValue
		c.MonetaryValue = &v
	}
	return c
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
