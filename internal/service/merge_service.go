package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/events"
	"github.com/casedesk/case-service/internal/observability"
	"github.com/casedesk/case-service/internal/repository"
	"github.com/casedesk/case-service/internal/throttle"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

const defaultMessageBatchSize = 5

// MergeService finds duplicate cases and folds them into a single survivor.
type MergeService struct {
	cases      repository.CaseRepository
	messages   repository.MessageRepository
	throttle   throttle.Throttle
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	batchSize  int
}

// MergeDependencies bundles collaborators for the merge service.
type MergeDependencies struct {
	CaseRepo    repository.CaseRepository
	MessageRepo repository.MessageRepository
	Throttle    throttle.Throttle
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	// BatchSize bounds concurrent message updates; defaults to 5.
	BatchSize int
}

// NewMergeService constructs the service.
func NewMergeService(deps MergeDependencies) *MergeService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultMessageBatchSize
	}
	thr := deps.Throttle
	if thr == nil {
		thr = throttle.NewMemory(time.Minute)
	}
	return &MergeService{
		cases:      deps.CaseRepo,
		messages:   deps.MessageRepo,
		throttle:   thr,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		batchSize:  batch,
	}
}

// CandidatePreview describes one case that would be merged away.
type CandidatePreview struct {
	CaseID     int64  `json:"case_id"`
	Identifier string `json:"identifier"`
	Messages   int    `json:"messages"`
}

// GroupPreview is the dry-run view of one duplicate group.
type GroupPreview struct {
	CustomerPhone      string             `json:"customer_phone"`
	ChannelPhone       string             `json:"channel_phone"`
	SurvivorID         int64              `json:"survivor_id"`
	SurvivorIdentifier string             `json:"survivor_identifier"`
	SurvivorMessages   int                `json:"survivor_messages"`
	Candidates         []CandidatePreview `json:"candidates"`
	FieldsToUpdate     []string           `json:"fields_to_update"`
}

// MergePreview lists every duplicate group of an institution.
type MergePreview struct {
	InstitutionID   int64          `json:"institution_id"`
	Groups          []GroupPreview `json:"groups"`
	TotalCandidates int            `json:"total_candidates"`
	TotalMessages   int            `json:"total_messages"`
}

// GroupReport is the outcome of merging one group.
type GroupReport struct {
	SurvivorID       int64    `json:"survivor_id"`
	CandidateIDs     []int64  `json:"candidate_ids"`
	MessagesMigrated int      `json:"messages_migrated"`
	FieldsUpdated    []string `json:"fields_updated"`
	CasesDeleted     int      `json:"cases_deleted"`
	Errors           []string `json:"errors,omitempty"`
}

// MergeReport aggregates a merge run.
type MergeReport struct {
	InstitutionID    int64         `json:"institution_id"`
	DryRun           bool          `json:"dry_run"`
	Throttled        bool          `json:"throttled"`
	GroupsFound      int           `json:"groups_found"`
	SurvivorsUpdated int           `json:"survivors_updated"`
	CasesDeleted     int           `json:"cases_deleted"`
	MessagesMigrated int           `json:"messages_migrated"`
	Failures         int           `json:"failures"`
	Groups           []GroupReport `json:"groups"`
}

// Preview computes duplicate groups and their message counts without mutating anything.
func (s *MergeService) Preview(ctx context.Context, institutionID int64) (*MergePreview, error) {
	groups, err := s.loadGroups(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	preview := &MergePreview{InstitutionID: institutionID, Groups: make([]GroupPreview, 0, len(groups))}
	for _, group := range groups {
		survivorIdent := group.Survivor.BusinessIdentifier()
		survivorCount, err := s.messages.CountByCaseIdentifier(ctx, survivorIdent)
		if err != nil {
			return nil, fmt.Errorf("count messages for case %d: %w", group.Survivor.ID, err)
		}
		gp := GroupPreview{
			CustomerPhone:      group.CustomerPhone,
			ChannelPhone:       group.ChannelPhone,
			SurvivorID:         group.Survivor.ID,
			SurvivorIdentifier: survivorIdent,
			SurvivorMessages:   survivorCount,
			Candidates:         make([]CandidatePreview, 0, len(group.Candidates)),
			FieldsToUpdate:     patchFields(ResolveMergePatch(group.Survivor, group.Candidates)),
		}
		for _, cand := range group.Candidates {
			ident := cand.BusinessIdentifier()
			count := 0
			if ident != survivorIdent {
				count, err = s.messages.CountByCaseIdentifier(ctx, ident)
				if err != nil {
					return nil, fmt.Errorf("count messages for case %d: %w", cand.ID, err)
				}
			}
			gp.Candidates = append(gp.Candidates, CandidatePreview{CaseID: cand.ID, Identifier: ident, Messages: count})
			preview.TotalMessages += count
		}
		preview.TotalCandidates += len(group.Candidates)
		preview.Groups = append(preview.Groups, gp)
	}
	return preview, nil
}

// Execute merges every duplicate group of an institution. It never takes the
// throttle. With dryRun the report describes what would change.
func (s *MergeService) Execute(ctx context.Context, institutionID int64, dryRun bool) (*MergeReport, error) {
	if dryRun {
		preview, err := s.Preview(ctx, institutionID)
		if err != nil {
			return nil, err
		}
		return reportFromPreview(preview), nil
	}
	return s.run(ctx, institutionID, false)
}

// AutoMerge runs Execute at most once per institution per cooldown window.
func (s *MergeService) AutoMerge(ctx context.Context, institutionID int64) (*MergeReport, error) {
	if institutionID <= 0 {
		return nil, apperrors.NewFieldError("institutionId", "institution id must be positive")
	}
	ok, err := s.throttle.Acquire(ctx, strconv.FormatInt(institutionID, 10))
	if err != nil {
		s.logger.Warn("merge throttle unavailable; skipping run", zap.Int64("institution_id", institutionID), zap.Error(err))
		ok = false
	}
	if !ok {
		return &MergeReport{InstitutionID: institutionID, Throttled: true, Groups: []GroupReport{}}, nil
	}
	return s.run(ctx, institutionID, true)
}

func (s *MergeService) run(ctx context.Context, institutionID int64, automatic bool) (*MergeReport, error) {
	groups, err := s.loadGroups(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	report := &MergeReport{InstitutionID: institutionID, GroupsFound: len(groups), Groups: make([]GroupReport, 0, len(groups))}
	for _, group := range groups {
		gr := s.mergeGroup(ctx, institutionID, group)
		report.MessagesMigrated += gr.MessagesMigrated
		report.CasesDeleted += gr.CasesDeleted
		report.Failures += len(gr.Errors)
		if len(gr.FieldsUpdated) > 0 {
			report.SurvivorsUpdated++
		}
		report.Groups = append(report.Groups, gr)
	}

	s.metrics.RecordMerge(report.GroupsFound, report.CasesDeleted, report.MessagesMigrated, report.Failures)
	s.logger.Info("merge run finished",
		zap.Int64("institution_id", institutionID),
		zap.Bool("automatic", automatic),
		zap.Int("groups", report.GroupsFound),
		zap.Int("cases_deleted", report.CasesDeleted),
		zap.Int("messages_migrated", report.MessagesMigrated),
		zap.Int("failures", report.Failures))
	if report.GroupsFound > 0 {
		s.publishMerged(ctx, institutionID, report, automatic)
	}
	return report, nil
}

// mergeGroup runs the four merge steps. Each step records its own failures
// and the next step still runs. A candidate is deleted only once the store
// reports no messages left under its identifier; otherwise it is kept so a
// later run can finish the move.
func (s *MergeService) mergeGroup(ctx context.Context, institutionID int64, group domain.DuplicateGroup) GroupReport {
	survivor := group.Survivor
	survivorIdent := survivor.BusinessIdentifier()
	gr := GroupReport{SurvivorID: survivor.ID, CandidateIDs: make([]int64, 0, len(group.Candidates)), FieldsUpdated: []string{}}
	log := s.logger.With(zap.Int64("institution_id", institutionID), zap.Int64("survivor_id", survivor.ID))

	pending := map[int64]bool{}
	for _, cand := range group.Candidates {
		gr.CandidateIDs = append(gr.CandidateIDs, cand.ID)
		ident := cand.BusinessIdentifier()
		if ident == survivorIdent {
			continue
		}
		msgs, err := s.messages.ListByCaseIdentifier(ctx, ident)
		if err != nil {
			log.Warn("list candidate messages failed", zap.Int64("case_id", cand.ID), zap.Error(err))
			gr.Errors = append(gr.Errors, fmt.Sprintf("list messages of case %d: %v", cand.ID, err))
			pending[cand.ID] = true
			continue
		}
		migrated, failures := s.repointMessages(ctx, msgs, survivorIdent)
		gr.MessagesMigrated += migrated
		for _, f := range failures {
			log.Warn("re-point message failed", zap.Int64("case_id", cand.ID), zap.String("error", f))
			gr.Errors = append(gr.Errors, f)
		}
		if len(failures) > 0 {
			pending[cand.ID] = true
			continue
		}
		remaining, err := s.messages.CountByCaseIdentifier(ctx, ident)
		switch {
		case err != nil:
			log.Warn("count candidate messages failed", zap.Int64("case_id", cand.ID), zap.Error(err))
			gr.Errors = append(gr.Errors, fmt.Sprintf("count messages of case %d: %v", cand.ID, err))
			pending[cand.ID] = true
		case remaining > 0:
			log.Warn("candidate still has messages", zap.Int64("case_id", cand.ID), zap.Int("remaining", remaining))
			gr.Errors = append(gr.Errors, fmt.Sprintf("case %d still has %d messages", cand.ID, remaining))
			pending[cand.ID] = true
		}
	}

	patch := ResolveMergePatch(survivor, group.Candidates)
	if !patch.IsEmpty() {
		if err := s.cases.Update(ctx, survivor.ID, patch); err != nil {
			log.Warn("update survivor failed", zap.Error(err))
			gr.Errors = append(gr.Errors, fmt.Sprintf("update survivor %d: %v", survivor.ID, err))
		} else {
			gr.FieldsUpdated = patchFields(patch)
		}
	}

	for _, cand := range group.Candidates {
		if pending[cand.ID] {
			gr.Errors = append(gr.Errors, fmt.Sprintf("case %d kept: messages not fully migrated", cand.ID))
			continue
		}
		if err := s.cases.Delete(ctx, cand.ID); err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			log.Warn("delete candidate failed", zap.Int64("case_id", cand.ID), zap.Error(err))
			gr.Errors = append(gr.Errors, fmt.Sprintf("delete case %d: %v", cand.ID, err))
			continue
		}
		gr.CasesDeleted++
	}
	return gr
}

// repointMessages updates messages in fixed-size concurrent batches. One
// failing update never cancels its siblings.
func (s *MergeService) repointMessages(ctx context.Context, msgs []domain.CaseMessage, target string) (int, []string) {
	migrated := 0
	var failures []string
	for start := 0; start < len(msgs); start += s.batchSize {
		batch := msgs[start:min(start+s.batchSize, len(msgs))]
		errs := make([]error, len(batch))
		var g errgroup.Group
		for i := range batch {
			i := i
			g.Go(func() error {
				errs[i] = s.messages.UpdateCaseIdentifier(ctx, batch[i].ID, target)
				return nil
			})
		}
		_ = g.Wait()
		for i, err := range errs {
			if err != nil {
				failures = append(failures, fmt.Sprintf("re-point message %s: %v", batch[i].ID, err))
				continue
			}
			migrated++
		}
	}
	return migrated, failures
}

func (s *MergeService) loadGroups(ctx context.Context, institutionID int64) ([]domain.DuplicateGroup, error) {
	if institutionID <= 0 {
		return nil, apperrors.NewFieldError("institutionId", "institution id must be positive")
	}
	cases, err := s.cases.List(ctx, repository.CaseFilter{InstitutionID: &institutionID})
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return GroupDuplicates(cases), nil
}

func (s *MergeService) publishMerged(ctx context.Context, institutionID int64, report *MergeReport, automatic bool) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:            uuid.NewString(),
		Type:          events.EventCasesMerged,
		InstitutionID: institutionID,
		Actor:         events.Actor{InstitutionID: institutionID},
		Timestamp:     time.Now().UTC(),
		Payload: events.CasesMergedPayload{
			Groups:           report.GroupsFound,
			CasesDeleted:     report.CasesDeleted,
			MessagesMigrated: report.MessagesMigrated,
			Automatic:        automatic,
		},
	})
}

func reportFromPreview(p *MergePreview) *MergeReport {
	report := &MergeReport{InstitutionID: p.InstitutionID, DryRun: true, GroupsFound: len(p.Groups), Groups: make([]GroupReport, 0, len(p.Groups))}
	for _, g := range p.Groups {
		gr := GroupReport{SurvivorID: g.SurvivorID, FieldsUpdated: g.FieldsToUpdate, CasesDeleted: len(g.Candidates)}
		for _, c := range g.Candidates {
			gr.CandidateIDs = append(gr.CandidateIDs, c.CaseID)
			gr.MessagesMigrated += c.Messages
		}
		if len(g.FieldsToUpdate) > 0 {
			report.SurvivorsUpdated++
		}
		report.CasesDeleted += gr.CasesDeleted
		report.MessagesMigrated += gr.MessagesMigrated
		report.Groups = append(report.Groups, gr)
	}
	return report
}

func patchFields(patch domain.CasePatch) []string {
	cols := patch.Columns()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
