package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestCSVRecordSink_HeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.csv")

	sink, err := NewCSVRecordSink(path)
	if err != nil {
		t.Fatalf("NewCSVRecordSink() error = %v", err)
	}

	records := []catalog.Record{
		{Name: "Absu", Country: "United States", Genre: "Black/Thrash Metal", Status: "Active"},
		{Name: "Abigor", Country: "Austria", Genre: "Black Metal", Status: "Active"},
	}
	if err := sink.Write(records); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (header + 2)", len(rows))
	}
	if rows[0][0] != "band" || rows[0][3] != "status" {
		t.Errorf("header = %v, want %v", rows[0], catalog.RecordHeader)
	}
	if rows[1][0] != "Absu" || rows[2][0] != "Abigor" {
		t.Errorf("data rows = %v", rows[1:])
	}
}

func TestCSVRecordSink_TruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.csv")
	if err := os.WriteFile(path, []byte("stale,data,from,before\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink, err := NewCSVRecordSink(path)
	if err != nil {
		t.Fatalf("NewCSVRecordSink() error = %v", err)
	}
	sink.Close()

	rows := readCSV(t, path)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want header only", len(rows))
	}
	if rows[0][0] != "band" {
		t.Errorf("first row = %v, want header", rows[0])
	}
}

func TestCSVRecordSink_EmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.csv")

	sink, err := NewCSVRecordSink(path)
	if err != nil {
		t.Fatalf("NewCSVRecordSink() error = %v", err)
	}
	if err := sink.Write(nil); err != nil {
		t.Errorf("Write(nil) error = %v", err)
	}
	sink.Close()

	if rows := readCSV(t, path); len(rows) != 1 {
		t.Errorf("got %d rows, want header only", len(rows))
	}
}

// Each concurrent Write call must land as one contiguous run of rows.
func TestCSVRecordSink_ConcurrentBatchesAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.csv")

	sink, err := NewCSVRecordSink(path)
	if err != nil {
		t.Fatalf("NewCSVRecordSink() error = %v", err)
	}

	const writers = 8
	const batchSize = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			batch := make([]catalog.Record, batchSize)
			for j := range batch {
				batch[j] = catalog.Record{
					Name:    fmt.Sprintf("band-%d-%d", id, j),
					Country: fmt.Sprintf("writer-%d", id),
					Genre:   "Test Metal",
					Status:  "Active",
				}
			}
			if err := sink.Write(batch); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}(i)
	}
	wg.Wait()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 1+writers*batchSize {
		t.Fatalf("got %d rows, want %d", len(rows), 1+writers*batchSize)
	}

	// Rows from one writer must form contiguous runs of batchSize.
	for i := 1; i < len(rows); i += batchSize {
		owner := rows[i][1]
		for j := 0; j < batchSize; j++ {
			if rows[i+j][1] != owner {
				t.Fatalf("row %d owned by %s interleaved into batch of %s", i+j, rows[i+j][1], owner)
			}
		}
	}
}

func TestCSVErrorSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.csv")

	sink, err := NewCSVErrorSink(path)
	if err != nil {
		t.Fatalf("NewCSVErrorSink() error = %v", err)
	}

	entries := []catalog.ErrorEntry{
		catalog.NewErrorEntry("A", "endpoint-a", 200, "garbled\nbody"),
		catalog.NewErrorEntry("B", "endpoint-b", 403, ""),
	}
	if err := sink.Write(entries); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][2] != "200" || rows[2][2] != "403" {
		t.Errorf("status columns = %q, %q", rows[1][2], rows[2][2])
	}
	if rows[1][3] != "garbledbody" {
		t.Errorf("body column = %q, want scrubbed body", rows[1][3])
	}
}
