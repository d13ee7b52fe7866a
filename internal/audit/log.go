// Package audit implements the bounded audit log for the learning plane.
// Pure bookkeeping: every dispatched outcome and notable learning event
// lands here, so a failure in any other consumer can never suppress the
// diagnostic trail.
package audit

import (
	"sync"
	"time"

	"github.com/hindsightlab/hindsight/learning-plane/pkg/models"
)

// DefaultMaxEvents bounds the ring when no capacity is configured.
const DefaultMaxEvents = 500

// Log is an append-only bounded history of audit records.
// Oldest records are evicted first once the ring is full.
type Log struct {
	mu        sync.RWMutex
	records   []models.AuditRecord
	maxEvents int
	total     int64
	byKind    map[string]int64
}

// NewLog creates an audit log holding at most maxEvents records.
func NewLog(maxEvents int) *Log {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Log{
		records:   make([]models.AuditRecord, 0, maxEvents),
		maxEvents: maxEvents,
		byKind:    make(map[string]int64),
	}
}

// Record appends one audit record, evicting the oldest on overflow.
func (l *Log) Record(eventKind, details string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, models.AuditRecord{
		Timestamp: time.Now().UTC(),
		EventKind: eventKind,
		Details:   details,
	})
	if len(l.records) > l.maxEvents {
		l.records = l.records[len(l.records)-l.maxEvents:]
	}
	l.total++
	l.byKind[eventKind]++
}

// Stats returns the aggregate counters for health reporting.
// ByKind counts every record ever seen, not just the retained window.
func (l *Log) Stats() models.AuditStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byKind := make(map[string]int64, len(l.byKind))
	for k, v := range l.byKind {
		byKind[k] = v
	}
	return models.AuditStats{
		TotalRecorded: l.total,
		CurrentSize:   len(l.records),
		ByKind:        byKind,
	}
}

// Recent returns the newest n records, newest last.
func (l *Log) Recent(n int) []models.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]models.AuditRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// Reset clears all records and counters.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = l.records[:0]
	l.total = 0
	l.byKind = make(map[string]int64)
}
