package tabular

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		BaseURL:    srv.URL + "/",
		APIKey:     "k",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestSelect_EncodesFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cases" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("institution_id"); got != "eq.7" {
			t.Errorf("institution_id = %q", got)
		}
		if got := q.Get("id"); got != "in.(1,2)" {
			t.Errorf("id = %q", got)
		}
		if got := q.Get("or"); got != "(assigned_to.is.null,assigned_to.eq.0)" {
			t.Errorf("or = %q", got)
		}
		if got := q.Get("order"); got != "id.asc" {
			t.Errorf("order = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "k" {
			t.Errorf("apikey = %q", got)
		}
		_, _ = io.WriteString(w, `[{"id":1},{"id":2}]`)
	})

	var rows []struct {
		ID int64 `json:"id"`
	}
	err := client.Select(context.Background(), "cases", []Filter{
		Eq("institution_id", 7),
		In("id", []int64{1, 2}),
		Or("assigned_to.is.null", "assigned_to.eq.0"),
	}, "id.asc", 0, &rows)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 || rows[1].ID != 2 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestCount_ReadsContentRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "count=exact" {
			t.Errorf("prefer = %q", r.Header.Get("Prefer"))
		}
		w.Header().Set("Content-Range", "0-0/42")
		_, _ = io.WriteString(w, `[]`)
	})
	n, err := client.Count(context.Background(), "case_messages", []Filter{Eq("case_identifier", "C-1")})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 42 {
		t.Fatalf("count = %d", n)
	}
}

func TestUpdate_ReturnsChangedRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["assignee_name"] != "Ana" {
			t.Errorf("body = %v", body)
		}
		if r.URL.Query().Get("assigned_to") != "is.null" {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, `[{"id":9}]`)
	})

	n, err := client.Update(context.Background(), "cases",
		[]Filter{Eq("id", 9), IsNull("assigned_to")},
		map[string]any{"assigned_to": 3, "assignee_name": "Ana"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("changed = %d", n)
	}

	if _, err := client.Update(context.Background(), "cases", nil, map[string]any{"x": 1}); !errors.Is(err, ErrConfig) {
		t.Fatalf("unfiltered update must be refused, got %v", err)
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d", got)
	}
}

func TestDo_ClientErrorIsAPIError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key"}`)
	})
	err := client.Insert(context.Background(), "cases", map[string]any{"id": 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "23505" || apiErr.Message != "duplicate key" {
		t.Fatalf("unexpected %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Fatal("4xx must not be retried")
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	cases := map[string]struct {
		want    int
		wantErr bool
	}{
		"0-0/5": {want: 5},
		"*/0":   {want: 0},
		"0-9/*": {wantErr: true},
		"":      {wantErr: true},
	}
	for header, tc := range cases {
		got, err := parseContentRangeTotal(header)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("%q: got %d, %v", header, got, err)
		}
	}
}

// cappedRows serves ids 1..total, never more than maxRows per response.
func cappedRows(t *testing.T, total, maxRows int, reportCount bool, offsets *[]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		*offsets = append(*offsets, q.Get("offset"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		limit = min(limit, maxRows)
		end := min(offset+limit, total)
		rows := []map[string]int{}
		for id := offset + 1; id <= end; id++ {
			rows = append(rows, map[string]int{"id": id})
		}
		if reportCount {
			if r.Header.Get("Prefer") != "count=exact" {
				t.Errorf("prefer = %q", r.Header.Get("Prefer"))
			}
			w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", offset, end-1, total))
		}
		_ = json.NewEncoder(w).Encode(rows)
	}
}

func TestSelect_PagesPastServerRowCap(t *testing.T) {
	var offsets []string
	client := newTestClient(t, cappedRows(t, 7, 3, true, &offsets))

	var rows []struct {
		ID int `json:"id"`
	}
	if err := client.Select(context.Background(), "case_messages", nil, "id.asc", 0, &rows); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 7 || rows[0].ID != 1 || rows[6].ID != 7 {
		t.Fatalf("rows = %+v", rows)
	}
	if got := strings.Join(offsets, ","); got != ",3,6" {
		t.Fatalf("offsets = %q", got)
	}
}

func TestSelect_StopsAtLimit(t *testing.T) {
	var offsets []string
	client := newTestClient(t, cappedRows(t, 7, 3, true, &offsets))

	var rows []struct {
		ID int `json:"id"`
	}
	if err := client.Select(context.Background(), "cases", nil, "id.asc", 4, &rows); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 4 || rows[3].ID != 4 {
		t.Fatalf("rows = %+v", rows)
	}
	if len(offsets) != 2 {
		t.Fatalf("requests = %d", len(offsets))
	}
}

func TestSelect_ShortPageEndsWithoutCount(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(cappedRows(t, 5, 10, false, &offsets))
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{BaseURL: srv.URL, PageSize: 2})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var rows []struct {
		ID int `json:"id"`
	}
	if err := client.Select(context.Background(), "cases", nil, "", 0, &rows); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %+v", rows)
	}
	if got := strings.Join(offsets, ","); got != ",2,4" {
		t.Fatalf("offsets = %q", got)
	}
}
