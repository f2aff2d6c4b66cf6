// Package testutil provides testing utilities for the archive crawler.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

// ScriptedResponse overrides one page request with a canned status and
// body, letting tests inject overload bursts, garbled payloads, and
// fatal statuses ahead of the normal simulated data.
type ScriptedResponse struct {
	StatusCode int
	Body       string
}

// MockArchive simulates the catalogue browse API over httptest. Each
// partition holds a record set served in offset/pageSize windows with a
// DataTables-shaped JSON payload.
type MockArchive struct {
	server *httptest.Server

	mu         sync.Mutex
	partitions map[catalog.PartitionKey][]catalog.Record
	scripts    map[catalog.PartitionKey][]ScriptedResponse
	requests   int
}

// NewMockArchive creates a mock catalogue server with no partitions.
func NewMockArchive() *MockArchive {
	mock := &MockArchive{
		partitions: make(map[catalog.PartitionKey][]catalog.Record),
		scripts:    make(map[catalog.PartitionKey][]ScriptedResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL.
func (m *MockArchive) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockArchive) Close() {
	m.server.Close()
}

// SetPartition installs the full record set served for one partition.
func (m *MockArchive) SetPartition(key catalog.PartitionKey, records []catalog.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[key] = records
}

// Script queues canned responses served before the simulated data for
// one partition, in order.
func (m *MockArchive) Script(key catalog.PartitionKey, responses ...ScriptedResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[key] = append(m.scripts[key], responses...)
}

// RequestCount returns how many page requests the server has seen.
func (m *MockArchive) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Endpoint builds a request target against this mock server instead of
// the live site.
func (m *MockArchive) Endpoint(key catalog.PartitionKey, offset, pageSize int) string {
	return catalog.BuildEndpointAt(m.server.URL, key, offset, pageSize)
}

func (m *MockArchive) handle(w http.ResponseWriter, r *http.Request) {
	key, ok := partitionFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("iDisplayStart"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("iDisplayLength"))
	if pageSize <= 0 {
		pageSize = catalog.DefaultPageSize
	}

	m.mu.Lock()
	m.requests++
	if scripted := m.scripts[key]; len(scripted) > 0 {
		m.scripts[key] = scripted[1:]
		m.mu.Unlock()
		w.WriteHeader(scripted[0].StatusCode)
		fmt.Fprint(w, scripted[0].Body)
		return
	}
	records := m.partitions[key]
	m.mu.Unlock()

	start, end := offset, offset+pageSize
	if start > len(records) {
		start = len(records)
	}
	if end > len(records) {
		end = len(records)
	}

	rows := make([][]string, 0, end-start)
	for _, rec := range records[start:end] {
		rows = append(rows, rec.CSVRow())
	}

	payload := map[string]any{
		"iTotalRecords": len(records),
		"aaData":        rows,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// partitionFromPath extracts the partition key from a browse path like
// /browse/ajax-letter/l/A/json.
func partitionFromPath(path string) (catalog.PartitionKey, bool) {
	const prefix = "/browse/ajax-letter/l/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	key, found := strings.CutSuffix(rest, "/json")
	if !found || key == "" {
		return "", false
	}
	return catalog.PartitionKey(key), true
}
