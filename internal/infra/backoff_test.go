package infra

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},  // capped
		{20, 60 * time.Second}, // capped
		{-1, 1 * time.Second},  // clamped
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.retry); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestCalculateBackoff_OverflowSafe(t *testing.T) {
	// Shifts large enough to overflow must still return the cap.
	if got := CalculateBackoff(63); got != 60*time.Second {
		t.Errorf("CalculateBackoff(63) = %v, want cap", got)
	}
}
