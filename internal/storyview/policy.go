package storyview

import (
	"errors"
	"fmt"
	"time"
)

// Default thresholds.
const (
	DefaultImageMinWatchMs    int64   = 1200
	DefaultVideoMinWatchMs    int64   = 3000
	DefaultMinViewedFraction  float64 = 0.20
	DefaultCompletionFraction float64 = 0.95
)

// Policy decides whether a session counts as a view.
type Policy struct {
	ImageMinWatchMs    int64
	VideoMinWatchMs    int64
	MinViewedFraction  float64
	CompletionFraction float64
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ImageMinWatchMs:    DefaultImageMinWatchMs,
		VideoMinWatchMs:    DefaultVideoMinWatchMs,
		MinViewedFraction:  DefaultMinViewedFraction,
		CompletionFraction: DefaultCompletionFraction,
	}
}

// Validate checks that thresholds are usable.
func (p Policy) Validate() error {
	var errs []error
	if p.ImageMinWatchMs <= 0 {
		errs = append(errs, fmt.Errorf("image min watch must be positive, got %d", p.ImageMinWatchMs))
	}
	if p.VideoMinWatchMs <= 0 {
		errs = append(errs, fmt.Errorf("video min watch must be positive, got %d", p.VideoMinWatchMs))
	}
	if p.MinViewedFraction <= 0 || p.MinViewedFraction > 1 {
		errs = append(errs, fmt.Errorf("min viewed fraction must be in (0,1], got %v", p.MinViewedFraction))
	}
	if p.CompletionFraction <= 0 || p.CompletionFraction > 1 {
		errs = append(errs, fmt.Errorf("completion fraction must be in (0,1], got %v", p.CompletionFraction))
	}
	return errors.Join(errs...)
}

// MinWatchMs returns the dwell threshold for a media type.
func (p Policy) MinWatchMs(m MediaType) int64 {
	if m == MediaVideo {
		return p.VideoMinWatchMs
	}
	return p.ImageMinWatchMs
}

// ShouldCount reports whether progress is enough for a view to count. Any
// one of completion, dwell time or viewed fraction suffices.
func (p Policy) ShouldCount(pr Progress, m MediaType) bool {
	return pr.Completed ||
		pr.WatchTimeMs >= p.MinWatchMs(m) ||
		pr.ViewedFraction >= p.MinViewedFraction
}

// Progress computes session progress with this policy's completion fraction.
func (p Policy) Progress(startedAt, now time.Time, media Media) Progress {
	return ComputeProgress(startedAt, now, media.EffectiveDurationMs(), p.CompletionFraction)
}
