package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhook_SendTransfer(t *testing.T) {
	var got TransferNotice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, time.Second, "case-service-test")
	err := hook.SendTransfer(context.Background(), TransferNotice{CaseID: 5, CaseIdentifier: "C-5", AssigneeID: 11})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.CaseID != 5 || got.CaseIdentifier != "C-5" || got.AssigneeID != 11 {
		t.Fatalf("unexpected notice: %+v", got)
	}
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, time.Second, "").SendTransfer(context.Background(), TransferNotice{}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhook_DisabledWithoutURL(t *testing.T) {
	hook := NewWebhook("  ", time.Second, "")
	if hook != nil {
		t.Fatal("expected nil webhook for empty url")
	}
	if err := hook.SendTransfer(context.Background(), TransferNotice{}); err != nil {
		t.Fatalf("nil webhook should be a no-op: %v", err)
	}
}
