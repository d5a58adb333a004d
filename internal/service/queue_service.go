package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/repository"
)

// QueueCandidate is one operator in the round robin working set.
type QueueCandidate struct {
	OperatorID      int64
	Name            string
	LastAssignedAt  string
	AssignmentCount int
}

// queueLess orders operators by least recent assignment (never assigned
// first), then by fewest assignments, then by id.
func queueLess(a, b QueueCandidate) bool {
	if a.LastAssignedAt != b.LastAssignedAt {
		return a.LastAssignedAt < b.LastAssignedAt
	}
	if a.AssignmentCount != b.AssignmentCount {
		return a.AssignmentCount < b.AssignmentCount
	}
	return a.OperatorID < b.OperatorID
}

// PickNext returns the index of the operator that should receive the next
// case, or false when the working set is empty.
func PickNext(set []QueueCandidate) (int, bool) {
	if len(set) == 0 {
		return 0, false
	}
	best := 0
	for i := 1; i < len(set); i++ {
		if queueLess(set[i], set[best]) {
			best = i
		}
	}
	return best, true
}

// Advance records a pick in the working set so the next PickNext sees it.
func Advance(c *QueueCandidate, at string) {
	c.LastAssignedAt = at
	c.AssignmentCount++
}

// QueueService owns the round robin records.
type QueueService struct {
	queue     repository.QueueRepository
	operators repository.OperatorRepository
	cases     repository.CaseRepository
	logger    *zap.Logger
	now       func() time.Time
}

// QueueDependencies bundles collaborators for the queue service.
type QueueDependencies struct {
	QueueRepo    repository.QueueRepository
	OperatorRepo repository.OperatorRepository
	CaseRepo     repository.CaseRepository
	Logger       *zap.Logger
	Clock        func() time.Time
}

// NewQueueService constructs the service.
func NewQueueService(deps QueueDependencies) *QueueService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &QueueService{
		queue:     deps.QueueRepo,
		operators: deps.OperatorRepo,
		cases:     deps.CaseRepo,
		logger:    logger,
		now:       clock,
	}
}

// Timestamp returns the current time in the stored queue format.
func (s *QueueService) Timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// WorkingSet loads the active, queue-eligible operators of an institution
// merged with their stored records, sorted by operator id.
func (s *QueueService) WorkingSet(ctx context.Context, institutionID int64) ([]QueueCandidate, error) {
	active, eligible := true, true
	ops, err := s.operators.List(ctx, repository.OperatorFilter{
		InstitutionID: &institutionID,
		Active:        &active,
		QueueEligible: &eligible,
	})
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	records, err := s.queue.ListByInstitution(ctx, institutionID)
	if err != nil {
		return nil, fmt.Errorf("list queue records: %w", err)
	}
	byOperator := make(map[int64]domain.QueueRecord, len(records))
	for _, rec := range records {
		byOperator[rec.OperatorID] = rec
	}

	set := make([]QueueCandidate, 0, len(ops))
	for _, op := range ops {
		rec := byOperator[op.ID]
		set = append(set, QueueCandidate{
			OperatorID:      op.ID,
			Name:            op.Name,
			LastAssignedAt:  rec.LastAssignedAt,
			AssignmentCount: rec.AssignmentCount,
		})
	}
	sort.Slice(set, func(i, j int) bool { return set[i].OperatorID < set[j].OperatorID })
	return set, nil
}

// RecordAssignmentsBatch folds picks into one increment per operator and
// issues one store update for each. Every operator is attempted.
func (s *QueueService) RecordAssignmentsBatch(ctx context.Context, institutionID int64, operatorIDs []int64) error {
	if len(operatorIDs) == 0 {
		return nil
	}
	counts := map[int64]int{}
	order := make([]int64, 0, len(operatorIDs))
	for _, id := range operatorIDs {
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}
	at := s.Timestamp()

	var errs []error
	for _, id := range order {
		if err := s.queue.RecordAssignments(ctx, institutionID, id, counts[id], at); err != nil {
			s.logger.Warn("record queue assignment failed",
				zap.Int64("institution_id", institutionID),
				zap.Int64("operator_id", id),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("operator %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// OperatorQueueStats reports one operator's place in the queue.
type OperatorQueueStats struct {
	OperatorID      int64  `json:"operator_id"`
	Name            string `json:"name"`
	Rank            int    `json:"rank"`
	CurrentLoad     int    `json:"current_load"`
	AssignmentCount int    `json:"assignment_count"`
	LastAssignedAt  string `json:"last_assigned_at,omitempty"`
}

// Stats ranks eligible operators in pick order (1 = next) with their live load.
func (s *QueueService) Stats(ctx context.Context, institutionID int64) ([]OperatorQueueStats, error) {
	set, err := s.WorkingSet(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(set, func(i, j int) bool { return queueLess(set[i], set[j]) })

	stats := make([]OperatorQueueStats, 0, len(set))
	for i, c := range set {
		load, err := s.cases.CountAssigned(ctx, institutionID, c.OperatorID)
		if err != nil {
			return nil, fmt.Errorf("count cases of operator %d: %w", c.OperatorID, err)
		}
		stats = append(stats, OperatorQueueStats{
			OperatorID:      c.OperatorID,
			Name:            c.Name,
			Rank:            i + 1,
			CurrentLoad:     load,
			AssignmentCount: c.AssignmentCount,
			LastAssignedAt:  c.LastAssignedAt,
		})
	}
	return stats, nil
}
