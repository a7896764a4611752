package model

import "testing"

func TestPhaseProjections(t *testing.T) {
	tests := []struct {
		phase     Phase
		isStarted bool
		isRunning bool
		isEnded   bool
	}{
		{PhaseReady, false, false, false},
		{PhaseLive, true, true, false},
		{PhasePaused, true, false, false},
		{PhaseEnded, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			s := SessionState{Phase: tt.phase}
			if s.IsStarted() != tt.isStarted {
				t.Errorf("IsStarted() = %v, want %v", s.IsStarted(), tt.isStarted)
			}
			if s.IsRunning() != tt.isRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.isRunning)
			}
			if s.IsEnded() != tt.isEnded {
				t.Errorf("IsEnded() = %v, want %v", s.IsEnded(), tt.isEnded)
			}
		})
	}
}

func TestCentsRounding(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{33.333, 3333},
		{3.3333, 333},
		{0, 0},
		{10.005, 1001},
		{199.999, 20000},
	}

	for _, tt := range tests {
		if got := Cents(tt.amount); got != tt.want {
			t.Errorf("Cents(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestDollarsRoundTrip(t *testing.T) {
	if got := Dollars(3333); got != 33.33 {
		t.Errorf("Dollars(3333) = %v, want 33.33", got)
	}
	if got := Cents(Dollars(12345)); got != 12345 {
		t.Errorf("round trip = %d, want 12345", got)
	}
}
