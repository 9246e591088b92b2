package timetrack

import "testing"

func TestSecondsToMinutes(t *testing.T) {
	tests := []struct {
		seconds int64
		want    int64
	}{
		{-100, 0},
		{0, 0},
		{29, 0},
		{30, 1},
		{89, 1},
		{90, 2},
		{MaxSeconds, MaxMinutes},
		{MaxSeconds + 1, MaxMinutes},
	}

	for _, tt := range tests {
		if got := SecondsToMinutes(tt.seconds); got != tt.want {
			t.Errorf("SecondsToMinutes(%d) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestMinutesToChrons(t *testing.T) {
	tests := []struct {
		minutes int64
		want    float64
	}{
		{-6, 0},
		{0, 0},
		{6, 1},
		{9, 1.5},
		{60, 10},
		{int64(MaxMinutes) + 10, float64(MaxMinutes) / 6},
	}

	for _, tt := range tests {
		if got := MinutesToChrons(tt.minutes); got != tt.want {
			t.Errorf("MinutesToChrons(%d) = %v, want %v", tt.minutes, got, tt.want)
		}
	}
}

func TestMaxSecondsFitsMinutes(t *testing.T) {
	if MaxHours != 35791393 {
		t.Fatalf("MaxHours = %d", MaxHours)
	}
	if got := SecondsToMinutes(MaxSeconds); got != MaxMinutes {
		t.Fatalf("max seconds round to %d minutes, want %d", got, MaxMinutes)
	}
}
