// Package sink provides the append-only crawl output destinations:
// the record sink, the parse-error sink, and the sequenced logger.
// All of them are safe for concurrent writers.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

// RecordSink receives batches of successfully parsed records.
// Each Write call must be atomic with respect to other writers.
type RecordSink interface {
	Write(records []catalog.Record) error
}

// ErrorSink receives batches of parse-error entries.
type ErrorSink interface {
	Write(entries []catalog.ErrorEntry) error
}

// CSVRecordSink appends record batches to a CSV file. The file is
// truncated once at construction and the header written exactly once;
// it is never reopened mid-run.
type CSVRecordSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVRecordSink creates (truncating) the record CSV and writes the
// column header.
func NewCSVRecordSink(path string) (*CSVRecordSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create record sink: %w", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(catalog.RecordHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("write record header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("flush record header: %w", err)
	}

	return &CSVRecordSink{file: file, w: w}, nil
}

// Write appends one batch of records. The whole batch is written under
// the sink lock so rows from concurrent partitions never interleave.
func (s *CSVRecordSink) Write(records []catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.w.Write(r.CSVRow()); err != nil {
			return fmt.Errorf("write record row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush record batch: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *CSVRecordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// CSVErrorSink appends parse-error entries to a CSV file, with the same
// truncate-once and batch-atomicity discipline as CSVRecordSink.
type CSVErrorSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVErrorSink creates (truncating) the error CSV and writes the
// column header.
func NewCSVErrorSink(path string) (*CSVErrorSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create error sink: %w", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(catalog.ErrorHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("write error header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("flush error header: %w", err)
	}

	return &CSVErrorSink{file: file, w: w}, nil
}

// Write appends one batch of error entries atomically.
func (s *CSVErrorSink) Write(entries []catalog.ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if err := s.w.Write(e.CSVRow()); err != nil {
			return fmt.Errorf("write error row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush error batch: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *CSVErrorSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
