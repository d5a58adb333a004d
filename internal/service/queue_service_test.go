package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/repository"
)

func TestPickNext_EqualHistoryYieldsIDOrder(t *testing.T) {
	set := []QueueCandidate{{OperatorID: 30}, {OperatorID: 10}, {OperatorID: 20}}
	var picked []int64
	for i := 0; i < len(set); i++ {
		idx, ok := PickNext(set)
		if !ok {
			t.Fatal("expected a pick")
		}
		picked = append(picked, set[idx].OperatorID)
		Advance(&set[idx], "2026-03-01T10:00:00Z")
	}
	want := []int64{10, 20, 30}
	for i := range want {
		if picked[i] != want[i] {
			t.Fatalf("picks = %v, want %v", picked, want)
		}
	}
}

func TestPickNext_Ordering(t *testing.T) {
	tests := []struct {
		name string
		set  []QueueCandidate
		want int64
	}{
		{
			name: "never assigned first",
			set: []QueueCandidate{
				{OperatorID: 1, LastAssignedAt: "2026-01-01T00:00:00Z", AssignmentCount: 0},
				{OperatorID: 2, LastAssignedAt: "", AssignmentCount: 5},
			},
			want: 2,
		},
		{
			name: "oldest timestamp wins",
			set: []QueueCandidate{
				{OperatorID: 1, LastAssignedAt: "2026-01-02T00:00:00Z"},
				{OperatorID: 2, LastAssignedAt: "2026-01-01T00:00:00Z", AssignmentCount: 9},
			},
			want: 2,
		},
		{
			name: "count breaks timestamp tie",
			set: []QueueCandidate{
				{OperatorID: 1, LastAssignedAt: "2026-01-01T00:00:00Z", AssignmentCount: 3},
				{OperatorID: 2, LastAssignedAt: "2026-01-01T00:00:00Z", AssignmentCount: 2},
			},
			want: 2,
		},
		{
			name: "id breaks full tie",
			set: []QueueCandidate{
				{OperatorID: 9, LastAssignedAt: "2026-01-01T00:00:00Z", AssignmentCount: 2},
				{OperatorID: 4, LastAssignedAt: "2026-01-01T00:00:00Z", AssignmentCount: 2},
			},
			want: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := PickNext(tt.set)
			if !ok || tt.set[idx].OperatorID != tt.want {
				t.Fatalf("picked %d, want %d", tt.set[idx].OperatorID, tt.want)
			}
		})
	}

	if _, ok := PickNext(nil); ok {
		t.Fatal("empty set must not yield a pick")
	}
}

func newQueueFixture(t *testing.T) (*QueueService, *repository.MemoryState) {
	t.Helper()
	repos, state := repository.NewMemoryRepositories()
	clock := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	svc := NewQueueService(QueueDependencies{
		QueueRepo:    repos.Queue,
		OperatorRepo: repos.Operators,
		CaseRepo:     repos.Cases,
		Clock:        clock,
	})
	return svc, state
}

func TestQueueService_RecordAssignmentsBatchAggregates(t *testing.T) {
	svc, state := newQueueFixture(t)
	state.PutQueueRecord(domain.QueueRecord{OperatorID: 2, InstitutionID: testInstitution, AssignmentCount: 4, LastAssignedAt: "2026-01-01T00:00:00Z"})

	err := svc.RecordAssignmentsBatch(context.Background(), testInstitution, []int64{1, 2, 1, 1})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	one, ok := state.QueueRecord(testInstitution, 1)
	if !ok || one.AssignmentCount != 3 || one.LastAssignedAt != "2026-03-01T10:00:00Z" {
		t.Fatalf("operator 1 record = %+v", one)
	}
	two, _ := state.QueueRecord(testInstitution, 2)
	if two.AssignmentCount != 5 {
		t.Fatalf("operator 2 count = %d, want 5", two.AssignmentCount)
	}
}

func TestQueueService_RecordAssignmentsBatchAttemptsAll(t *testing.T) {
	svc, state := newQueueFixture(t)
	state.FailOn(repository.OpRecordQueue, "1", errors.New("unavailable"))

	err := svc.RecordAssignmentsBatch(context.Background(), testInstitution, []int64{1, 2})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if rec, ok := state.QueueRecord(testInstitution, 2); !ok || rec.AssignmentCount != 1 {
		t.Fatalf("operator 2 should still be recorded: %+v", rec)
	}
}

func TestQueueService_StatsRanksEligibleOperators(t *testing.T) {
	svc, state := newQueueFixture(t)
	state.PutOperator(domain.Operator{ID: 1, InstitutionID: testInstitution, Name: "Ana", Active: true, QueueEligible: true})
	state.PutOperator(domain.Operator{ID: 2, InstitutionID: testInstitution, Name: "Bruno", Active: true, QueueEligible: true})
	state.PutOperator(domain.Operator{ID: 3, InstitutionID: testInstitution, Name: "Caio", Active: false, QueueEligible: true})
	state.PutOperator(domain.Operator{ID: 4, InstitutionID: testInstitution, Name: "Dora", Active: true, QueueEligible: false})
	state.PutQueueRecord(domain.QueueRecord{OperatorID: 1, InstitutionID: testInstitution, AssignmentCount: 2, LastAssignedAt: "2026-02-01T00:00:00Z"})
	assignee := int64(1)
	state.PutCase(domain.Case{ID: 100, InstitutionID: testInstitution, AssignedTo: &assignee})
	state.PutCase(domain.Case{ID: 101, InstitutionID: testInstitution, AssignedTo: &assignee})

	stats, err := svc.Stats(context.Background(), testInstitution)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 eligible operators, got %+v", stats)
	}
	if stats[0].OperatorID != 2 || stats[0].Rank != 1 || stats[0].CurrentLoad != 0 {
		t.Fatalf("first = %+v", stats[0])
	}
	if stats[1].OperatorID != 1 || stats[1].Rank != 2 || stats[1].CurrentLoad != 2 || stats[1].AssignmentCount != 2 {
		t.Fatalf("second = %+v", stats[1])
	}
}
