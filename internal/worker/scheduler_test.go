package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/service"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

type recorder struct {
	mu       sync.Mutex
	merged   []int64
	assigned []int64
}

func (r *recorder) AutoMerge(_ context.Context, id int64) (*service.MergeReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merged = append(r.merged, id)
	return &service.MergeReport{InstitutionID: id}, nil
}

func (r *recorder) AutoAssign(_ context.Context, id int64) (*service.AutoAssignReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigned = append(r.assigned, id)
	if id == 3 {
		return nil, apperrors.NewConflict("no eligible operators", nil)
	}
	return &service.AutoAssignReport{InstitutionID: id}, nil
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.merged), len(r.assigned)
}

func testInstitutions() *config.Institutions {
	return config.NewInstitutions(
		domain.InstitutionSettings{QueueMode: domain.QueueModeManual, AutoMergeEnabled: true},
		domain.InstitutionSettings{InstitutionID: 1, QueueMode: domain.QueueModeAuto, AutoMergeEnabled: true},
		domain.InstitutionSettings{InstitutionID: 2, QueueMode: domain.QueueModeManual, AutoMergeEnabled: false},
		domain.InstitutionSettings{InstitutionID: 3, QueueMode: domain.QueueModeAuto, AutoMergeEnabled: true},
	)
}

func TestScheduler_OnceRespectsSettings(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(SchedulerDependencies{Merger: rec, Assigner: rec, Institutions: testInstitutions()})

	s.MergeOnce(context.Background())
	s.AssignOnce(context.Background())

	if want := []int64{1, 3}; !equalIDs(rec.merged, want) {
		t.Fatalf("merged %v, want %v", rec.merged, want)
	}
	if want := []int64{1, 3}; !equalIDs(rec.assigned, want) {
		t.Fatalf("assigned %v, want %v", rec.assigned, want)
	}
}

func TestScheduler_DisabledWithoutIntervals(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(SchedulerDependencies{Merger: rec, Assigner: rec, Institutions: testInstitutions()})
	if s.Enabled() {
		t.Fatal("zero intervals must disable the scheduler")
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(SchedulerDependencies{
		Merger:         rec,
		Assigner:       rec,
		Institutions:   testInstitutions(),
		MergeInterval:  5 * time.Millisecond,
		AssignInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		merged, assigned := rec.counts()
		if merged > 0 && assigned > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if merged, assigned := rec.counts(); merged == 0 || assigned == 0 {
		t.Fatalf("loops did not tick: merged=%d assigned=%d", merged, assigned)
	}
}

func equalIDs(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
