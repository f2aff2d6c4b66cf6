package sink

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestSeqLogger_SequenceOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSeqLogger(zerolog.New(&buf))

	const workers = 5
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				logger.Message("progress")
			}
		}()
	}
	wg.Wait()

	if logger.Seq() != workers*perWorker {
		t.Errorf("Seq() = %d, want %d", logger.Seq(), workers*perWorker)
	}

	// Emission order in the stream must match sequence numbers.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != workers*perWorker {
		t.Fatalf("got %d lines, want %d", len(lines), workers*perWorker)
	}
	for i, line := range lines {
		var entry struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d not JSON: %v", i, err)
		}
		if entry.Seq != uint64(i+1) {
			t.Fatalf("line %d has seq %d, want %d", i, entry.Seq, i+1)
		}
	}
}

func TestSeqLogger_Disable(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSeqLogger(zerolog.New(&buf))

	logger.Message("before")
	logger.Disable()
	logger.Message("after")
	logger.Messagef("after %d", 2)

	if got := logger.Seq(); got != 1 {
		t.Errorf("Seq() = %d, want 1", got)
	}
	if strings.Contains(buf.String(), "after") {
		t.Error("disabled logger still emitted output")
	}
}
