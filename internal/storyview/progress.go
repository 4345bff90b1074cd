package storyview

import (
	"math"
	"time"
)

// Progress is the state of a session at commit time.
type Progress struct {
	WatchTimeMs    int64
	ViewedFraction float64 // [0,1]
	Completed      bool
}

// ComputeProgress derives progress from the wall clock. Watch time is the
// time the item was on screen, so pauses and mutes do not stop it.
// durationMs must be positive.
func ComputeProgress(startedAt, now time.Time, durationMs int64, completionFraction float64) Progress {
	watch := now.Sub(startedAt).Milliseconds()
	if watch < 0 {
		watch = 0
	}
	fraction := 0.0
	if durationMs > 0 {
		fraction = math.Min(1, float64(watch)/float64(durationMs))
	}
	return Progress{
		WatchTimeMs:    watch,
		ViewedFraction: fraction,
		Completed:      fraction >= completionFraction,
	}
}

// Percentage returns the viewed fraction as 0-100 rounded to two decimals.
func (p Progress) Percentage() float64 {
	return math.Round(p.ViewedFraction*10000) / 100
}
