// Package store persists finalized decision events as JSON lines. It sits
// outside the core pipeline: the engine emits events over a bounded channel
// and never blocks on or even sees this writer.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Tarunvoff/apiris-sdk/pipeline"
)

// JSONLStore appends decision events to a JSONL file, one event per line.
type JSONLStore struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	count  int64
}

// Open creates or truncates the JSONL file at path.
func Open(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}
	return &JSONLStore{file: f, writer: bufio.NewWriter(f)}, nil
}

// Append writes one event line.
func (s *JSONLStore) Append(ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.count++
	return nil
}

// Count returns the number of events appended so far.
func (s *JSONLStore) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Consume drains the emitter until its channel closes, logging rather than
// propagating write failures: storage trouble must never reach the
// pipeline. Run it in its own goroutine.
func (s *JSONLStore) Consume(em *pipeline.Emitter) {
	for ev := range em.Events() {
		if err := s.Append(ev); err != nil {
			logrus.Warnf("event store append failed: %v", err)
		}
	}
}

// Close flushes and closes the file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flushing event store: %w", err)
	}
	return s.file.Close()
}
