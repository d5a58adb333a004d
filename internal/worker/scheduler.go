package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/service"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// Merger runs throttled merges; *service.MergeService implements it.
type Merger interface {
	AutoMerge(ctx context.Context, institutionID int64) (*service.MergeReport, error)
}

// Assigner runs queue batches; *service.AssignmentService implements it.
type Assigner interface {
	AutoAssign(ctx context.Context, institutionID int64) (*service.AutoAssignReport, error)
}

// InstitutionSource lists the tenants the scheduler visits.
type InstitutionSource interface {
	Known() []int64
	Settings(institutionID int64) domain.InstitutionSettings
}

// Scheduler periodically merges duplicates and drains automatic queues for
// every configured institution. A zero interval disables that loop.
type Scheduler struct {
	merger         Merger
	assigner       Assigner
	institutions   InstitutionSource
	mergeInterval  time.Duration
	assignInterval time.Duration
	logger         *zap.Logger
}

// SchedulerDependencies bundles collaborators.
type SchedulerDependencies struct {
	Merger         Merger
	Assigner       Assigner
	Institutions   InstitutionSource
	MergeInterval  time.Duration
	AssignInterval time.Duration
	Logger         *zap.Logger
}

// NewScheduler creates the scheduler.
func NewScheduler(deps SchedulerDependencies) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		merger:         deps.Merger,
		assigner:       deps.Assigner,
		institutions:   deps.Institutions,
		mergeInterval:  deps.MergeInterval,
		assignInterval: deps.AssignInterval,
		logger:         logger.Named("scheduler"),
	}
}

// Enabled reports whether any loop would run.
func (s *Scheduler) Enabled() bool {
	return (s.mergeInterval > 0 && s.merger != nil) || (s.assignInterval > 0 && s.assigner != nil)
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.mergeInterval > 0 && s.merger != nil {
		g.Go(func() error {
			s.loop(ctx, s.mergeInterval, s.MergeOnce)
			return nil
		})
	}
	if s.assignInterval > 0 && s.assigner != nil {
		g.Go(func() error {
			s.loop(ctx, s.assignInterval, s.AssignOnce)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// MergeOnce runs an automatic merge for each institution with auto merge on.
func (s *Scheduler) MergeOnce(ctx context.Context) {
	for _, id := range s.institutions.Known() {
		if ctx.Err() != nil {
			return
		}
		if !s.institutions.Settings(id).AutoMergeEnabled {
			continue
		}
		report, err := s.merger.AutoMerge(ctx, id)
		if err != nil {
			s.logger.Error("auto merge failed", zap.Int64("institution_id", id), zap.Error(err))
			continue
		}
		if report.Throttled {
			continue
		}
		s.logger.Info("auto merge completed",
			zap.Int64("institution_id", id),
			zap.Int("groups", report.GroupsFound),
			zap.Int("deleted", report.CasesDeleted),
			zap.Int("failures", report.Failures))
	}
}

// AssignOnce runs one queue batch for each institution in automatic mode.
func (s *Scheduler) AssignOnce(ctx context.Context) {
	for _, id := range s.institutions.Known() {
		if ctx.Err() != nil {
			return
		}
		if s.institutions.Settings(id).QueueMode != domain.QueueModeAuto {
			continue
		}
		report, err := s.assigner.AutoAssign(ctx, id)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeConflict) {
				s.logger.Debug("no eligible operators", zap.Int64("institution_id", id))
				continue
			}
			s.logger.Error("auto assign failed", zap.Int64("institution_id", id), zap.Error(err))
			continue
		}
		if len(report.Assigned)+len(report.Failed) > 0 {
			s.logger.Info("auto assign completed",
				zap.Int64("institution_id", id),
				zap.Int("assigned", len(report.Assigned)),
				zap.Int("failed", len(report.Failed)))
		}
	}
}
