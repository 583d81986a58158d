package executor

import (
	"testing"
	"time"
)

func TestRampingVUs_CalculateTargetVUs(t *testing.T) {
	payRamp := []Stage{
		{Duration: 30 * time.Second, Target: 10},
		{Duration: time.Minute, Target: 10},
		{Duration: 30 * time.Second, Target: 0},
	}

	tests := []struct {
		name      string
		stages    []Stage
		elapsed   time.Duration
		want      int
		wantStage int
	}{
		{"start", payRamp, 0, 0, 0},
		{"early ramp-up", payRamp, 3 * time.Second, 1, 0},
		{"ramp-up midpoint", payRamp, 15 * time.Second, 5, 0},
		{"end of ramp-up", payRamp, 30 * time.Second, 10, 1},
		{"steady", payRamp, 60 * time.Second, 10, 1},
		{"start of ramp-down", payRamp, 90 * time.Second, 10, 2},
		{"ramp-down midpoint", payRamp, 105 * time.Second, 5, 2},
		{"late ramp-down", payRamp, 117 * time.Second, 1, 2},
		{"end", payRamp, 120 * time.Second, 0, 2},
		{"past the end", payRamp, 5 * time.Minute, 0, 2},
		{
			name:    "step stage jumps at once",
			stages:  []Stage{{Duration: 0, Target: 5}, {Duration: 10 * time.Second, Target: 5}},
			elapsed: 0, want: 5, wantStage: 1,
		},
		{
			name:    "step down then ramp",
			stages:  []Stage{{Duration: 10 * time.Second, Target: 8}, {Duration: 0, Target: 2}, {Duration: 10 * time.Second, Target: 4}},
			elapsed: 15 * time.Second, want: 3, wantStage: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewRampingVUs()
			e.config = &Config{Type: TypeRampingVUs, Stages: tt.stages}

			if got := e.calculateTargetVUs(tt.elapsed); got != tt.want {
				t.Errorf("calculateTargetVUs(%v) = %d, want %d", tt.elapsed, got, tt.want)
			}
			if got := int(e.currentStage.Load()); got != tt.wantStage {
				t.Errorf("current stage at %v = %d, want %d", tt.elapsed, got, tt.wantStage)
			}
		})
	}
}
