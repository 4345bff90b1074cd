// Package stats tracks cumulative write statistics for view records.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// WriteStats counts how view-record commits reached storage.
// All operations are thread-safe.
type WriteStats struct {
	inserted  atomic.Int64 // first eligible commit for an identity/story pair
	merged    atomic.Int64 // revisit merged into an existing record
	conflicts atomic.Int64 // insert lost a unique-key race and fell back to merge
}

// NewWriteStats creates a new WriteStats instance.
func NewWriteStats() *WriteStats {
	return &WriteStats{}
}

// RecordInsert increments the inserted counter.
func (s *WriteStats) RecordInsert() {
	s.inserted.Add(1)
}

// RecordMerge increments the merged counter.
func (s *WriteStats) RecordMerge() {
	s.merged.Add(1)
}

// RecordConflict increments the conflict counter. A conflict is always
// followed by either a merge or a failure, so it is not part of Total.
func (s *WriteStats) RecordConflict() {
	s.conflicts.Add(1)
}

// Inserted returns the total number of inserts.
func (s *WriteStats) Inserted() int64 {
	return s.inserted.Load()
}

// Merged returns the total number of merges.
func (s *WriteStats) Merged() int64 {
	return s.merged.Load()
}

// Conflicts returns the number of duplicate-key conflicts observed.
func (s *WriteStats) Conflicts() int64 {
	return s.conflicts.Load()
}

// Total returns the number of successful writes (inserts + merges).
func (s *WriteStats) Total() int64 {
	return s.Inserted() + s.Merged()
}

// Reset resets all counters to zero.
func (s *WriteStats) Reset() {
	s.inserted.Store(0)
	s.merged.Store(0)
	s.conflicts.Store(0)
}

// String returns a human-readable summary of the statistics.
func (s *WriteStats) String() string {
	return fmt.Sprintf("inserted=%d merged=%d conflicts=%d total=%d",
		s.Inserted(), s.Merged(), s.Conflicts(), s.Total())
}

// LogSummary logs a summary of write statistics at INFO level.
func (s *WriteStats) LogSummary(logger *slog.Logger, entity string) {
	logger.Info("view write statistics",
		"entity", entity,
		"inserted", s.Inserted(),
		"merged", s.Merged(),
		"conflicts", s.Conflicts(),
		"total", s.Total(),
	)
}
