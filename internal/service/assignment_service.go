package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/events"
	"github.com/casedesk/case-service/internal/observability"
	"github.com/casedesk/case-service/internal/repository"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

const (
	defaultBulkAssignLimit = 50
	defaultAutoAssignBatch = 50
)

// SettingsProvider resolves per-institution switches.
type SettingsProvider interface {
	Settings(institutionID int64) domain.InstitutionSettings
}

// Actor is the authenticated operator acting through a session. The session
// institution may differ from the operator's own for global admins.
type Actor struct {
	InstitutionID int64
	Operator      domain.Operator
}

// IsGlobalAdmin reports a session in the superadmin institution.
func (a Actor) IsGlobalAdmin() bool {
	return a.InstitutionID == domain.SuperadminInstitutionID
}

// CanAccessInstitution reports whether the actor may act on a tenant.
func (a Actor) CanAccessInstitution(institutionID int64) bool {
	return a.IsGlobalAdmin() || a.InstitutionID == institutionID
}

// AssignmentService implements claims, bulk assignment and queue-driven assignment.
type AssignmentService struct {
	cases       repository.CaseRepository
	operators   repository.OperatorRepository
	departments repository.DepartmentRepository
	queue       *QueueService
	settings    SettingsProvider
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	bulkLimit   int
	autoBatch   int
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	CaseRepo       repository.CaseRepository
	OperatorRepo   repository.OperatorRepository
	DepartmentRepo repository.DepartmentRepository
	Queue          *QueueService
	Settings       SettingsProvider
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	BulkLimit      int
	AutoBatchSize  int
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bulkLimit := deps.BulkLimit
	if bulkLimit <= 0 {
		bulkLimit = defaultBulkAssignLimit
	}
	autoBatch := deps.AutoBatchSize
	if autoBatch <= 0 {
		autoBatch = defaultAutoAssignBatch
	}
	return &AssignmentService{
		cases:       deps.CaseRepo,
		operators:   deps.OperatorRepo,
		departments: deps.DepartmentRepo,
		queue:       deps.Queue,
		settings:    deps.Settings,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      logger,
		bulkLimit:   bulkLimit,
		autoBatch:   autoBatch,
	}
}

// Claim assigns an unassigned case to the acting operator.
func (s *AssignmentService) Claim(ctx context.Context, actor Actor, caseID int64) (*domain.Case, error) {
	if caseID <= 0 {
		return nil, apperrors.NewFieldError("caseId", "case id must be positive")
	}
	if mode := s.settings.Settings(actor.InstitutionID).QueueMode; mode != domain.QueueModeManual {
		s.metrics.RecordAssignment("claim", "forbidden")
		return nil, apperrors.NewForbidden("self claim is disabled while the queue runs in automatic mode")
	}

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": caseID})
		}
		return nil, apperrors.MapError(err)
	}
	if !actor.CanAccessInstitution(c.InstitutionID) {
		s.metrics.RecordAssignment("claim", "forbidden")
		return nil, apperrors.NewForbidden("case belongs to another institution")
	}
	// A global admin acts under the case's tenant, whose mode may differ.
	if c.InstitutionID != actor.InstitutionID && s.settings.Settings(c.InstitutionID).QueueMode != domain.QueueModeManual {
		s.metrics.RecordAssignment("claim", "forbidden")
		return nil, apperrors.NewForbidden("self claim is disabled while the queue runs in automatic mode")
	}
	if c.IsAssigned() {
		s.metrics.RecordAssignment("claim", "conflict")
		return nil, apperrors.NewConflict("case already assigned", map[string]any{"case_id": caseID})
	}
	if !actor.Operator.IsAdmin() {
		restricted, err := s.departmentRestricts(ctx, c)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if restricted {
			member, err := s.departments.IsMember(ctx, *c.DepartmentID, actor.Operator.ID)
			if err != nil {
				return nil, apperrors.MapError(err)
			}
			if !member {
				s.metrics.RecordAssignment("claim", "forbidden")
				return nil, apperrors.NewForbidden("operator is not a member of the case department")
			}
		}
	}

	won, err := s.cases.AssignIfUnassigned(ctx, c.ID, actor.Operator.ID, actor.Operator.Name)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !won {
		s.metrics.RecordAssignment("claim", "conflict")
		return nil, apperrors.NewConflict("case already assigned", map[string]any{"case_id": caseID})
	}

	previous := c.AssigneeName
	assignee := actor.Operator.ID
	c.AssignedTo = &assignee
	c.AssigneeName = actor.Operator.Name

	s.recordQueue(ctx, c.InstitutionID, []int64{assignee})
	s.metrics.RecordAssignment("claim", "assigned")
	s.publishAssigned(ctx, actor.Operator.ID, c, previous, events.AssignmentSourceClaim)
	return c, nil
}

// departmentRestricts reports whether claiming c needs department
// membership. An inactive department no longer restricts its cases; a
// department row that cannot be found still does.
func (s *AssignmentService) departmentRestricts(ctx context.Context, c *domain.Case) (bool, error) {
	if c.DepartmentID == nil || *c.DepartmentID <= 0 {
		return false, nil
	}
	dept, err := s.departments.GetByID(ctx, *c.DepartmentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return dept.IsActive, nil
}

// BulkItem is a per-case outcome with a reason.
type BulkItem struct {
	CaseID int64  `json:"case_id"`
	Reason string `json:"reason"`
}

// BulkAssignReport aggregates a bulk assignment.
type BulkAssignReport struct {
	TargetOperatorID int64      `json:"target_operator_id"`
	Assigned         []int64    `json:"assigned"`
	Skipped          []BulkItem `json:"skipped"`
	Failed           []BulkItem `json:"failed"`
}

type bulkOutcome struct {
	caseID        int64
	institutionID int64
	status        string
	reason        string
}

const (
	outcomeAssigned = "assigned"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// BulkAssign assigns up to the configured cap of cases to one operator.
// Input is validated before any store read; each case is then processed
// concurrently and reported individually.
func (s *AssignmentService) BulkAssign(ctx context.Context, actor Actor, caseIDs []int64, targetID int64) (*BulkAssignReport, error) {
	if !actor.Operator.IsAdmin() && !actor.IsGlobalAdmin() {
		return nil, apperrors.NewForbidden("admin privilege required")
	}
	if len(caseIDs) == 0 {
		return nil, apperrors.NewFieldError("caseIds", "at least one case id required")
	}
	if len(caseIDs) > s.bulkLimit {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("at most %d case ids per request", s.bulkLimit),
			map[string]any{"field": "caseIds", "limit": s.bulkLimit, "received": len(caseIDs)})
	}
	for _, id := range caseIDs {
		if id <= 0 {
			return nil, apperrors.NewFieldError("caseIds", "case ids must be positive")
		}
	}
	if targetID <= 0 {
		return nil, apperrors.NewFieldError("targetUserId", "target operator id must be positive")
	}
	ids := uniqueIDs(caseIDs)

	target, targetErr := s.operators.GetByID(ctx, targetID)

	outcomes := make([]bulkOutcome, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = s.assignOne(ctx, actor, id, target, targetErr)
			return nil
		})
	}
	_ = g.Wait()

	report := &BulkAssignReport{TargetOperatorID: targetID, Assigned: []int64{}, Skipped: []BulkItem{}, Failed: []BulkItem{}}
	picks := map[int64][]int64{}
	for _, o := range outcomes {
		s.metrics.RecordAssignment("bulk", o.status)
		switch o.status {
		case outcomeAssigned:
			report.Assigned = append(report.Assigned, o.caseID)
			picks[o.institutionID] = append(picks[o.institutionID], targetID)
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, BulkItem{CaseID: o.caseID, Reason: o.reason})
		default:
			report.Failed = append(report.Failed, BulkItem{CaseID: o.caseID, Reason: o.reason})
		}
	}
	for institutionID, ops := range picks {
		s.recordQueue(ctx, institutionID, ops)
	}
	s.logger.Info("bulk assign finished",
		zap.Int64("institution_id", actor.InstitutionID),
		zap.Int64("target_operator_id", targetID),
		zap.Int("assigned", len(report.Assigned)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (s *AssignmentService) assignOne(ctx context.Context, actor Actor, caseID int64, target *domain.Operator, targetErr error) bulkOutcome {
	out := bulkOutcome{caseID: caseID, status: outcomeFailed}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			out.reason = "case not found"
		} else {
			s.logger.Warn("bulk assign read failed", zap.Int64("case_id", caseID), zap.Error(err))
			out.reason = "store error"
		}
		return out
	}
	out.institutionID = c.InstitutionID
	if !actor.CanAccessInstitution(c.InstitutionID) {
		out.reason = "case belongs to another institution"
		return out
	}
	if c.IsAssigned() {
		out.status, out.reason = outcomeSkipped, "already assigned"
		return out
	}
	switch {
	case targetErr != nil && apperrors.IsNotFound(targetErr):
		out.reason = "target operator not found"
		return out
	case targetErr != nil:
		out.reason = "store error"
		return out
	case !target.Active:
		out.reason = "target operator inactive"
		return out
	case target.InstitutionID != c.InstitutionID:
		out.reason = "target operator belongs to another institution"
		return out
	}

	won, err := s.cases.AssignIfUnassigned(ctx, c.ID, target.ID, target.Name)
	if err != nil {
		s.logger.Warn("bulk assign write failed", zap.Int64("case_id", caseID), zap.Error(err))
		out.reason = "store error"
		return out
	}
	if !won {
		out.status, out.reason = outcomeSkipped, "already assigned"
		return out
	}
	previous := c.AssigneeName
	assignee := target.ID
	c.AssignedTo = &assignee
	c.AssigneeName = target.Name
	s.publishAssigned(ctx, actor.Operator.ID, c, previous, events.AssignmentSourceBulk)
	out.status = outcomeAssigned
	return out
}

// AutoAssignReport aggregates a queue-driven assignment batch.
type AutoAssignReport struct {
	InstitutionID int64      `json:"institution_id"`
	Assigned      []AutoPick `json:"assigned"`
	Skipped       []BulkItem `json:"skipped"`
	Failed        []BulkItem `json:"failed"`
}

// AutoPick pairs a case with the operator the queue chose.
type AutoPick struct {
	CaseID     int64 `json:"case_id"`
	OperatorID int64 `json:"operator_id"`
}

// AutoAssign hands the oldest unassigned cases of an automatic-mode
// institution to operators in round robin order.
func (s *AssignmentService) AutoAssign(ctx context.Context, institutionID int64) (*AutoAssignReport, error) {
	if institutionID <= 0 {
		return nil, apperrors.NewFieldError("institutionId", "institution id must be positive")
	}
	if s.settings.Settings(institutionID).QueueMode != domain.QueueModeAuto {
		return nil, apperrors.NewForbidden("institution queue is in manual mode")
	}

	pending, err := s.cases.List(ctx, repository.CaseFilter{InstitutionID: &institutionID, UnassignedOnly: true, Limit: s.autoBatch})
	if err != nil {
		return nil, apperrors.MapError(fmt.Errorf("list unassigned cases: %w", err))
	}
	report := &AutoAssignReport{InstitutionID: institutionID, Assigned: []AutoPick{}, Skipped: []BulkItem{}, Failed: []BulkItem{}}
	if len(pending) == 0 {
		return report, nil
	}
	set, err := s.queue.WorkingSet(ctx, institutionID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if len(set) == 0 {
		return nil, apperrors.NewConflict("no eligible operators", map[string]any{"institution_id": institutionID})
	}

	var picks []int64
	for i := range pending {
		c := &pending[i]
		idx, _ := PickNext(set)
		op := set[idx]
		won, err := s.cases.AssignIfUnassigned(ctx, c.ID, op.OperatorID, op.Name)
		if err != nil {
			s.logger.Warn("auto assign write failed", zap.Int64("case_id", c.ID), zap.Error(err))
			report.Failed = append(report.Failed, BulkItem{CaseID: c.ID, Reason: "store error"})
			s.metrics.RecordAssignment("queue", outcomeFailed)
			continue
		}
		if !won {
			report.Skipped = append(report.Skipped, BulkItem{CaseID: c.ID, Reason: "already assigned"})
			s.metrics.RecordAssignment("queue", outcomeSkipped)
			continue
		}
		Advance(&set[idx], s.queue.Timestamp())
		picks = append(picks, op.OperatorID)
		report.Assigned = append(report.Assigned, AutoPick{CaseID: c.ID, OperatorID: op.OperatorID})
		s.metrics.RecordAssignment("queue", outcomeAssigned)

		previous := c.AssigneeName
		assignee := op.OperatorID
		c.AssignedTo = &assignee
		c.AssigneeName = op.Name
		s.publishAssigned(ctx, 0, c, previous, events.AssignmentSourceQueue)
	}
	s.recordQueue(ctx, institutionID, picks)
	return report, nil
}

func (s *AssignmentService) recordQueue(ctx context.Context, institutionID int64, operatorIDs []int64) {
	if s.queue == nil {
		return
	}
	// failures are logged by the queue service; the assignment itself stands
	_ = s.queue.RecordAssignmentsBatch(ctx, institutionID, operatorIDs)
}

func (s *AssignmentService) publishAssigned(ctx context.Context, actorID int64, c *domain.Case, previous string, source events.AssignmentSource) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:            uuid.NewString(),
		Type:          events.EventCaseAssigned,
		InstitutionID: c.InstitutionID,
		CaseID:        c.ID,
		Actor:         events.Actor{OperatorID: actorID, InstitutionID: c.InstitutionID},
		Timestamp:     time.Now().UTC(),
		Payload: events.CaseAssignedPayload{
			CaseIdentifier: c.BusinessIdentifier(),
			AssigneeID:     *c.AssignedTo,
			AssigneeName:   c.AssigneeName,
			PreviousName:   previous,
			DepartmentID:   c.DepartmentID,
			CustomerName:   c.CustomerName,
			CustomerPhone:  c.CustomerPhone,
			ChannelPhone:   c.ChannelPhone,
			Source:         source,
		},
	})
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
