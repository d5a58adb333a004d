package app

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/domain"
	"github.com/casedesk/case-service/internal/service"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App:   config.AppConfig{Name: "case-service", Version: "test"},
		Store: config.StoreConfig{Backend: config.StoreBackendMemory},
		Merge: config.MergeConfig{ThrottleBackend: config.ThrottleBackendMemory, CooldownSeconds: 60},
		Queue: config.QueueConfig{DefaultMode: "manual"},
		Notification: config.NotificationConfig{
			GhostMessagesEnabled: true,
		},
	}
}

func TestBuild_MemoryBackendClaimWritesGhostMessage(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	state := c.Store.Memory
	if state == nil {
		t.Fatal("memory backend must expose its state")
	}
	state.PutOperator(domain.Operator{ID: 5, InstitutionID: 9, Name: "Ana", Role: domain.OperatorRoleAgent, Active: true})
	state.PutCase(domain.Case{ID: 40, InstitutionID: 9, CaseNumber: "C-40"})

	actor := service.Actor{InstitutionID: 9, Operator: domain.Operator{ID: 5, InstitutionID: 9, Name: "Ana", Role: domain.OperatorRoleAgent, Active: true}}
	if _, err := c.Assignments.Claim(ctx, actor, 40); err != nil {
		t.Fatalf("claim: %v", err)
	}
	c.Close()

	msgs, err := c.Store.Repositories.Messages.ListByCaseIdentifier(ctx, "C-40")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != domain.SenderSystem {
		t.Fatalf("expected one system message, got %+v", msgs)
	}
	if c.Scheduler.Enabled() {
		t.Fatal("scheduler must be idle without intervals")
	}
}

func TestBuild_RejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "sqlite"
	if _, err := Build(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}
