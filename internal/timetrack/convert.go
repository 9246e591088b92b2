package timetrack

import "math"

// Upper bounds for reportable time. MaxHours keeps minute values inside an int32.
const (
	MaxHours   = math.MaxInt32/60 - 1
	MaxMinutes = MaxHours*60 + 59
	// MaxSeconds is the largest second count that still rounds to MaxMinutes.
	MaxSeconds int64 = int64(MaxMinutes)*60 + 29
)

// ClampSeconds limits s to [0, MaxSeconds].
func ClampSeconds(s int64) int64 {
	if s < 0 {
		return 0
	}
	if s > MaxSeconds {
		return MaxSeconds
	}
	return s
}

// SecondsToMinutes rounds a second count to the nearest minute, half up.
func SecondsToMinutes(s int64) int64 {
	return (ClampSeconds(s) + 30) / 60
}

// MinutesToChrons converts minutes to chrons (1 chron = 6 minutes).
func MinutesToChrons(m int64) float64 {
	if m < 0 {
		m = 0
	}
	if m > MaxMinutes {
		m = MaxMinutes
	}
	return float64(m) / 6.0
}

// MinutesToHours converts minutes to fractional hours.
func MinutesToHours(m int64) float64 {
	return float64(m) / 60.0
}

// addClamped adds two non-negative second counts, saturating at MaxSeconds.
func addClamped(a, b int64) int64 {
	a = ClampSeconds(a)
	if b <= 0 {
		return a
	}
	if b > MaxSeconds-a {
		return MaxSeconds
	}
	return a + b
}
