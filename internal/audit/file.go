package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// FileSink appends one self-contained JSON record per line to a log file.
type FileSink struct {
	file   *os.File
	logger *logger.Logger
	mu     sync.Mutex
}

// NewFileSink opens (or creates) the audit log at path in append mode.
func NewFileSink(path string, log *logger.Logger) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	log.Info("Audit file sink initialized", zap.String("path", path))

	return &FileSink{file: file, logger: log}, nil
}

// Record serializes the entry as a single JSON line and appends it.
func (s *FileSink) Record(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

// Close closes the underlying log file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// NopSink discards all entries. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) Record(Entry) error { return nil }
func (NopSink) Close() error       { return nil }

// MemorySink retains entries in memory, primarily for tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *MemorySink) Record(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Entries returns a copy of the recorded entries.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
