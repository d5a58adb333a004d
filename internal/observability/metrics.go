package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu              sync.Mutex
	requestCount    map[string]int64
	errorCount      map[string]int64
	requestNanos    map[string]int64
	mergeCount      map[string]int64
	assignmentCount map[string]int64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Requests        map[string]int64 `json:"requests"`
	Errors          map[string]int64 `json:"errors"`
	RequestMillis   map[string]int64 `json:"request_millis"`
	Merges          map[string]int64 `json:"merges"`
	Assignments     map[string]int64 `json:"assignments"`
	CollectedAtUnix int64            `json:"collected_at"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]int64),
		errorCount:      make(map[string]int64),
		requestNanos:    make(map[string]int64),
		mergeCount:      make(map[string]int64),
		assignmentCount: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestNanos[key] += duration.Nanoseconds()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordMerge adds the totals of one merge run.
func (m *Metrics) RecordMerge(groups, deleted, migrated, failures int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeCount["runs"]++
	m.mergeCount["groups"] += int64(groups)
	m.mergeCount["cases_deleted"] += int64(deleted)
	m.mergeCount["messages_migrated"] += int64(migrated)
	m.mergeCount["failures"] += int64(failures)
}

// RecordAssignment counts one assignment outcome for a flow (claim, bulk, queue).
func (m *Metrics) RecordAssignment(flow, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignmentCount[flow+"|"+outcome]++
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	millis := make(map[string]int64, len(m.requestNanos))
	for k, v := range m.requestNanos {
		millis[k] = v / int64(time.Millisecond)
	}
	return Snapshot{
		Requests:        copyCounters(m.requestCount),
		Errors:          copyCounters(m.errorCount),
		RequestMillis:   millis,
		Merges:          copyCounters(m.mergeCount),
		Assignments:     copyCounters(m.assignmentCount),
		CollectedAtUnix: time.Now().Unix(),
	}
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
