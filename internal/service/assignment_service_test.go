package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/events"
	"github.com/casedesk/case-service/internal/repository"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

type staticSettings map[int64]domain.QueueMode

func (s staticSettings) Settings(institutionID int64) domain.InstitutionSettings {
	mode, ok := s[institutionID]
	if !ok {
		mode = domain.QueueModeManual
	}
	return domain.InstitutionSettings{InstitutionID: institutionID, QueueMode: mode, AutoMergeEnabled: true}
}

type assignmentFixture struct {
	svc    *AssignmentService
	state  *repository.MemoryState
	events *[]events.Event
}

func newAssignmentFixture(t *testing.T, settings staticSettings) assignmentFixture {
	t.Helper()
	repos, state := repository.NewMemoryRepositories()
	dispatcher := events.NewInMemoryDispatcher()
	var mu sync.Mutex
	published := []events.Event{}
	dispatcher.Subscribe(events.EventCaseAssigned, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, e)
		return nil
	})
	queue := NewQueueService(QueueDependencies{QueueRepo: repos.Queue, OperatorRepo: repos.Operators, CaseRepo: repos.Cases})
	svc := NewAssignmentService(AssignmentDependencies{
		CaseRepo:       repos.Cases,
		OperatorRepo:   repos.Operators,
		DepartmentRepo: repos.Departments,
		Queue:          queue,
		Settings:       settings,
		Dispatcher:     dispatcher,
	})
	return assignmentFixture{svc: svc, state: state, events: &published}
}

func agent(id, institution int64) domain.Operator {
	return domain.Operator{ID: id, InstitutionID: institution, Name: "agent", Role: domain.OperatorRoleAgent, Active: true, QueueEligible: true}
}

func admin(id, institution int64) domain.Operator {
	return domain.Operator{ID: id, InstitutionID: institution, Name: "admin", Role: domain.OperatorRoleInstitutionAdmin, Active: true}
}

func TestClaim_Success(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution, CaseNumber: "C-1"})
	op := agent(11, testInstitution)
	op.Name = "Ana"

	got, err := f.svc.Claim(context.Background(), Actor{InstitutionID: testInstitution, Operator: op}, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.AssignedTo == nil || *got.AssignedTo != 11 || got.AssigneeName != "Ana" {
		t.Fatalf("returned case = %+v", got)
	}
	stored, _ := f.state.Case(1)
	if stored.AssignedTo == nil || *stored.AssignedTo != 11 {
		t.Fatalf("stored assignee = %v", stored.AssignedTo)
	}
	if rec, ok := f.state.QueueRecord(testInstitution, 11); !ok || rec.AssignmentCount != 1 {
		t.Fatalf("queue record = %+v", rec)
	}
	if len(*f.events) != 1 {
		t.Fatalf("expected one assignment event, got %d", len(*f.events))
	}
	payload := (*f.events)[0].Payload.(events.CaseAssignedPayload)
	if payload.CaseIdentifier != "C-1" || payload.Source != events.AssignmentSourceClaim {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestClaim_PreconditionOrder(t *testing.T) {
	dept := int64(3)
	other := int64(99)
	tests := []struct {
		name     string
		settings staticSettings
		seed     func(*repository.MemoryState)
		actor    Actor
		caseID   int64
		wantCode string
	}{
		{
			name:     "automatic mode forbids claim even for missing case",
			settings: staticSettings{testInstitution: domain.QueueModeAuto},
			actor:    Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)},
			caseID:   404,
			wantCode: "FORBIDDEN",
		},
		{
			name:     "missing case",
			actor:    Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)},
			caseID:   404,
			wantCode: "NOT_FOUND",
		},
		{
			name: "other institution checked before assignment",
			seed: func(s *repository.MemoryState) {
				s.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution + 1, AssignedTo: &other})
			},
			actor:    Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)},
			caseID:   1,
			wantCode: "FORBIDDEN",
		},
		{
			name: "already assigned checked before department",
			seed: func(s *repository.MemoryState) {
				s.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution, AssignedTo: &other, DepartmentID: &dept})
			},
			actor:    Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)},
			caseID:   1,
			wantCode: "CONFLICT",
		},
		{
			name: "department non member",
			seed: func(s *repository.MemoryState) {
				s.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution, DepartmentID: &dept})
			},
			actor:    Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)},
			caseID:   1,
			wantCode: "FORBIDDEN",
		},
		{
			name:     "non positive id",
			actor:    Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)},
			caseID:   0,
			wantCode: "VALIDATION_FAILED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAssignmentFixture(t, tt.settings)
			if tt.seed != nil {
				tt.seed(f.state)
			}
			_, err := f.svc.Claim(context.Background(), tt.actor, tt.caseID)
			if !apperrors.HasCode(err, tt.wantCode) {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestClaim_DepartmentAccess(t *testing.T) {
	dept := int64(3)
	f := newAssignmentFixture(t, staticSettings{})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution, DepartmentID: &dept})
	f.state.PutCase(domain.Case{ID: 2, InstitutionID: testInstitution, DepartmentID: &dept})
	f.state.AddDepartmentMember(dept, 11)

	ctx := context.Background()
	if _, err := f.svc.Claim(ctx, Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)}, 1); err != nil {
		t.Fatalf("member claim: %v", err)
	}
	if _, err := f.svc.Claim(ctx, Actor{InstitutionID: testInstitution, Operator: admin(12, testInstitution)}, 2); err != nil {
		t.Fatalf("admin claim: %v", err)
	}
}

func TestClaim_SuperadminInstitution(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution})

	actor := Actor{InstitutionID: domain.SuperadminInstitutionID, Operator: agent(1, domain.SuperadminInstitutionID)}
	if _, err := f.svc.Claim(context.Background(), actor, 1); err != nil {
		t.Fatalf("superadmin claim: %v", err)
	}
}

func TestClaim_InactiveDepartmentIsOpen(t *testing.T) {
	active, retired := int64(3), int64(4)
	f := newAssignmentFixture(t, staticSettings{})
	f.state.PutDepartment(domain.Department{ID: active, InstitutionID: testInstitution, Name: "Labor", IsActive: true})
	f.state.PutDepartment(domain.Department{ID: retired, InstitutionID: testInstitution, Name: "Old", IsActive: false})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution, DepartmentID: &active})
	f.state.PutCase(domain.Case{ID: 2, InstitutionID: testInstitution, DepartmentID: &retired})

	ctx := context.Background()
	actor := Actor{InstitutionID: testInstitution, Operator: agent(11, testInstitution)}
	if _, err := f.svc.Claim(ctx, actor, 1); !apperrors.HasCode(err, "FORBIDDEN") {
		t.Fatalf("active department: expected forbidden, got %v", err)
	}
	if _, err := f.svc.Claim(ctx, actor, 2); err != nil {
		t.Fatalf("inactive department: %v", err)
	}
}

func TestClaim_SuperadminUsesCaseTenantMode(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{testInstitution: domain.QueueModeAuto})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution})

	actor := Actor{InstitutionID: domain.SuperadminInstitutionID, Operator: agent(1, domain.SuperadminInstitutionID)}
	if _, err := f.svc.Claim(context.Background(), actor, 1); !apperrors.HasCode(err, "FORBIDDEN") {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if stored, _ := f.state.Case(1); stored.IsAssigned() {
		t.Fatalf("case must stay unassigned, got %+v", stored)
	}
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution})

	const contenders = 8
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Actor{InstitutionID: testInstitution, Operator: agent(int64(100+i), testInstitution)}
			_, errs[i] = f.svc.Claim(context.Background(), actor, 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	var winner int64
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
			winner = int64(100 + i)
		case apperrors.HasCode(err, "CONFLICT"):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	stored, _ := f.state.Case(1)
	if stored.AssignedTo == nil || *stored.AssignedTo != winner {
		t.Fatalf("stored assignee %v does not match winner %d", stored.AssignedTo, winner)
	}
}

func TestBulkAssign_Validation(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	ctx := context.Background()
	adminActor := Actor{InstitutionID: testInstitution, Operator: admin(1, testInstitution)}

	storeTouched := errors.New("store must not be touched")
	f.state.FailOn(repository.OpGetCase, "*", storeTouched)
	f.state.FailOn(repository.OpAssignCase, "*", storeTouched)
	tooMany := make([]int64, 51)
	for i := range tooMany {
		tooMany[i] = int64(i + 1)
		f.state.PutCase(domain.Case{ID: tooMany[i], InstitutionID: testInstitution})
	}
	if _, err := f.svc.BulkAssign(ctx, adminActor, tooMany, 2); !apperrors.HasCode(err, "VALIDATION_FAILED") {
		t.Fatalf("51 ids: expected validation error, got %v", err)
	}
	// Within the cap the same request does reach the failing read.
	report, err := f.svc.BulkAssign(ctx, adminActor, tooMany[:1], 2)
	if err != nil {
		t.Fatalf("one id: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Reason != "store error" {
		t.Fatalf("one id: expected a failed read, got %+v", report)
	}
	if _, err := f.svc.BulkAssign(ctx, adminActor, []int64{1, -2}, 2); !apperrors.HasCode(err, "VALIDATION_FAILED") {
		t.Fatalf("negative id: expected validation error, got %v", err)
	}
	if _, err := f.svc.BulkAssign(ctx, adminActor, []int64{1}, 0); !apperrors.HasCode(err, "VALIDATION_FAILED") {
		t.Fatalf("zero target: expected validation error, got %v", err)
	}
	agentActor := Actor{InstitutionID: testInstitution, Operator: agent(3, testInstitution)}
	if _, err := f.svc.BulkAssign(ctx, agentActor, []int64{1}, 2); !apperrors.HasCode(err, "FORBIDDEN") {
		t.Fatalf("agent: expected forbidden, got %v", err)
	}
}

func TestBulkAssign_Outcomes(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	taken := int64(50)
	f.state.PutOperator(domain.Operator{ID: 2, InstitutionID: testInstitution, Name: "Bia", Active: true})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution})
	f.state.PutCase(domain.Case{ID: 2, InstitutionID: testInstitution})
	f.state.PutCase(domain.Case{ID: 3, InstitutionID: testInstitution, AssignedTo: &taken})
	f.state.PutCase(domain.Case{ID: 4, InstitutionID: testInstitution + 1})
	f.state.PutCase(domain.Case{ID: 5, InstitutionID: testInstitution})
	f.state.FailOn(repository.OpAssignCase, "5", errors.New("write timeout"))

	actor := Actor{InstitutionID: testInstitution, Operator: admin(1, testInstitution)}
	report, err := f.svc.BulkAssign(context.Background(), actor, []int64{1, 2, 3, 4, 5, 6}, 2)
	if err != nil {
		t.Fatalf("bulk assign: %v", err)
	}
	if len(report.Assigned) != 2 || report.Assigned[0] != 1 || report.Assigned[1] != 2 {
		t.Fatalf("assigned = %v", report.Assigned)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].CaseID != 3 {
		t.Fatalf("skipped = %+v", report.Skipped)
	}
	if len(report.Failed) != 3 {
		t.Fatalf("failed = %+v", report.Failed)
	}
	if rec, _ := f.state.QueueRecord(testInstitution, 2); rec.AssignmentCount != 2 {
		t.Fatalf("queue count = %d, want 2", rec.AssignmentCount)
	}
	if len(*f.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(*f.events))
	}
}

func TestBulkAssign_InactiveTarget(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	f.state.PutOperator(domain.Operator{ID: 2, InstitutionID: testInstitution, Active: false})
	f.state.PutCase(domain.Case{ID: 1, InstitutionID: testInstitution})

	actor := Actor{InstitutionID: testInstitution, Operator: admin(1, testInstitution)}
	report, err := f.svc.BulkAssign(context.Background(), actor, []int64{1}, 2)
	if err != nil {
		t.Fatalf("bulk assign: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Reason != "target operator inactive" {
		t.Fatalf("failed = %+v", report.Failed)
	}
	if c, _ := f.state.Case(1); c.IsAssigned() {
		t.Fatal("case must stay unassigned")
	}
}

func TestAutoAssign_RoundRobin(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{testInstitution: domain.QueueModeAuto})
	for _, id := range []int64{21, 22, 23} {
		f.state.PutOperator(domain.Operator{ID: id, InstitutionID: testInstitution, Name: "op", Active: true, QueueEligible: true})
	}
	for id := int64(1); id <= 4; id++ {
		f.state.PutCase(domain.Case{ID: id, InstitutionID: testInstitution})
	}

	report, err := f.svc.AutoAssign(context.Background(), testInstitution)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	want := []AutoPick{{1, 21}, {2, 22}, {3, 23}, {4, 21}}
	if len(report.Assigned) != len(want) {
		t.Fatalf("assigned = %+v", report.Assigned)
	}
	for i := range want {
		if report.Assigned[i] != want[i] {
			t.Fatalf("assigned = %+v, want %+v", report.Assigned, want)
		}
	}
	if rec, _ := f.state.QueueRecord(testInstitution, 21); rec.AssignmentCount != 2 {
		t.Fatalf("operator 21 count = %d", rec.AssignmentCount)
	}
}

func TestAutoAssign_ManualModeForbidden(t *testing.T) {
	f := newAssignmentFixture(t, staticSettings{})
	if _, err := f.svc.AutoAssign(context.Background(), testInstitution); !apperrors.HasCode(err, "FORBIDDEN") {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
