package provenance

import (
	"context"
	"sync"
)

// MemorySink keeps records in memory, bounded per asset. Used by tests and
// as the default sink when no external store is configured.
type MemorySink struct {
	mu        sync.RWMutex
	records   map[string][]Record
	retainPer int
}

// NewMemorySink creates a memory sink retaining up to retainPer records per
// asset (zero means unbounded).
func NewMemorySink(retainPer int) *MemorySink {
	return &MemorySink{
		records:   make(map[string][]Record),
		retainPer: retainPer,
	}
}

// Append stores the record, newest first.
func (s *MemorySink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := append([]Record{rec}, s.records[rec.AssetID]...)
	if s.retainPer > 0 && len(recs) > s.retainPer {
		recs = recs[:s.retainPer]
	}
	s.records[rec.AssetID] = recs
	return nil
}

// Recent returns up to n most recent records for an asset.
func (s *MemorySink) Recent(assetID string, n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[assetID]
	if n > 0 && len(recs) > n {
		recs = recs[:n]
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}
