package storyview

import (
	"testing"
	"time"
)

func TestComputeProgress(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		elapsed      time.Duration
		durationMs   int64
		wantWatch    int64
		wantFraction float64
		wantComplete bool
	}{
		{"partial", 1250 * time.Millisecond, 5000, 1250, 0.25, false},
		{"clamped above duration", 8 * time.Second, 5000, 8000, 1.0, true},
		{"clock went backwards", -2 * time.Second, 5000, 0, 0, false},
		{"at completion threshold", 4750 * time.Millisecond, 5000, 4750, 0.95, true},
		{"just below completion", 4700 * time.Millisecond, 5000, 4700, 0.94, false},
		{"zero duration", time.Second, 0, 1000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeProgress(start, start.Add(tt.elapsed), tt.durationMs, DefaultCompletionFraction)
			if got.WatchTimeMs != tt.wantWatch {
				t.Errorf("WatchTimeMs = %d, want %d", got.WatchTimeMs, tt.wantWatch)
			}
			if got.ViewedFraction != tt.wantFraction {
				t.Errorf("ViewedFraction = %v, want %v", got.ViewedFraction, tt.wantFraction)
			}
			if got.ViewedFraction < 0 || got.ViewedFraction > 1 {
				t.Errorf("ViewedFraction %v outside [0,1]", got.ViewedFraction)
			}
			if got.Completed != tt.wantComplete {
				t.Errorf("Completed = %v, want %v", got.Completed, tt.wantComplete)
			}
		})
	}
}

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		fraction float64
		want     float64
	}{
		{0, 0},
		{1, 100},
		{0.25, 25},
		{1.0 / 3.0, 33.33},
		{0.123456, 12.35},
	}
	for _, tt := range tests {
		if got := (Progress{ViewedFraction: tt.fraction}).Percentage(); got != tt.want {
			t.Errorf("Percentage(%v) = %v, want %v", tt.fraction, got, tt.want)
		}
	}
}

func TestMedia_EffectiveDuration(t *testing.T) {
	tests := []struct {
		media Media
		want  int64
	}{
		{Media{Type: MediaImage}, DefaultImageDurationMs},
		{Media{Type: MediaVideo}, DefaultVideoDurationMs},
		{Media{Type: MediaVideo, DurationMs: 42000}, 42000},
	}
	for _, tt := range tests {
		if got := tt.media.EffectiveDurationMs(); got != tt.want {
			t.Errorf("EffectiveDurationMs(%+v) = %d, want %d", tt.media, got, tt.want)
		}
	}
}
