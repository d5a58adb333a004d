package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MERGE_THROTTLE_BACKEND", "memory")
	t.Setenv("QUEUE_DEFAULT_MODE", "auto")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMergePreview_EmptyStore(t *testing.T) {
	out, err := runCLI(t, "merge", "preview", "--institution", "7")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if body["institution_id"].(float64) != 7 {
		t.Fatalf("unexpected output %v", body)
	}
}

func TestMergeRun_DryRun(t *testing.T) {
	out, err := runCLI(t, "merge", "run", "--institution", "7", "--dry-run")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, `"dry_run": true`) {
		t.Fatalf("expected dry run report, got %s", out)
	}
}

func TestInstitutionFlagRequired(t *testing.T) {
	if _, err := runCLI(t, "queue", "stats"); err == nil {
		t.Fatal("expected missing flag error")
	}
}

func TestWorkerNeedsInterval(t *testing.T) {
	if _, err := runCLI(t, "worker"); err == nil {
		t.Fatal("expected interval error")
	}
}
