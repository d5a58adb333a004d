package persistence

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/throttle"
)

func TestOpenStore_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.StoreBackendMemory}}
	store, err := OpenStore(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if store.Memory == nil || store.Repositories == nil {
		t.Fatal("memory backend must expose repositories and state")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenStore_RestRequiresBaseURL(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.StoreBackendREST}}
	if _, err := OpenStore(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error without base url")
	}
}

func TestNewMergeThrottle_FallsBackToMemory(t *testing.T) {
	thr := NewMergeThrottle(config.MergeConfig{ThrottleBackend: config.ThrottleBackendRedis}, nil)
	if _, ok := thr.(*throttle.Memory); !ok {
		t.Fatalf("expected memory throttle, got %T", thr)
	}
}

func TestPingWithoutPool(t *testing.T) {
	var pg *Postgres
	if err := pg.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	var r *Redis
	if err := r.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPoolConfig(t *testing.T) {
	if _, err := PoolConfig(config.PostgresConfig{}); err == nil {
		t.Fatal("expected error without dsn")
	}
	cfg, err := PoolConfig(config.PostgresConfig{
		DSN:            "postgres://u:p@localhost:5432/cases",
		MaxConns:       8,
		MinConns:       20,
		ConnMaxIdleSec: 30,
	})
	if err != nil {
		t.Fatalf("pool config: %v", err)
	}
	if cfg.MaxConns != 8 {
		t.Fatalf("max conns = %d", cfg.MaxConns)
	}
	if cfg.MinConns > cfg.MaxConns {
		t.Fatalf("min conns %d above max", cfg.MinConns)
	}
	if cfg.MaxConnIdleTime != 30*time.Second {
		t.Fatalf("idle = %s", cfg.MaxConnIdleTime)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions(config.RedisConfig{URL: "redis://:pw@cache:6380/2", Addr: "ignored:1"})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("unexpected %+v", opts)
	}
	if _, err := RedisOptions(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without address")
	}
}

func TestMigrationNames_Embedded(t *testing.T) {
	names, err := MigrationNames(Migrations())
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("names = %v", names)
	}
	sql, err := fs.ReadFile(Migrations(), names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"cases", "case_messages", "assignment_queue", "operators"} {
		if !strings.Contains(string(sql), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("missing table %s", table)
		}
	}
}
