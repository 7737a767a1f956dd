// SPDX-License-Identifier: MIT

// Package audit provides a best-effort append-only sink for received
// records and lifecycle events. Writes are fire-and-forget: a failure is
// observed only through a metric and never reaches the data path.
package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/caelyn-nl/pagerstream/internal/metrics"
)

// Sink appends JSON lines to a file. A nil Sink is a valid, disabled sink;
// all methods are nil-safe so callers never branch on configuration.
type Sink struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates or appends to the sink file.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return nil, err
	}
	return &Sink{f: f}, nil
}

// WriteRecord appends one serialized record. Failures are swallowed and
// counted.
func (s *Sink) WriteRecord(body []byte) {
	if s == nil {
		return
	}
	s.append(body)
}

// lifecycleEntry is the shape of non-record lines in the sink.
type lifecycleEntry struct {
	Timestamp string            `json:"timestamp"`
	Event     string            `json:"event"`
	Details   map[string]string `json:"details,omitempty"`
}

// WriteEvent appends a lifecycle event (connect attempt, restart, shutdown).
func (s *Sink) WriteEvent(event string, details map[string]string) {
	if s == nil {
		return
	}
	body, err := json.Marshal(lifecycleEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     event,
		Details:   details,
	})
	if err != nil {
		metrics.AuditWriteFailures.Inc()
		return
	}
	s.append(body)
}

func (s *Sink) append(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(body, '\n')); err != nil {
		metrics.AuditWriteFailures.Inc()
	}
}

// Close flushes and releases the file. Nil-safe.
func (s *Sink) Close() {
	if s == nil || s.f == nil {
		return
	}
	_ = s.f.Close()
}
