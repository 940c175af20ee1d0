package utils

import "time"

// MrtdVersion is set from source control at build time.
var MrtdVersion string = "unknown"

// IdPtr is the pointer version of id: 'a->'a
func IdPtr[T any](value T) *T {
	return &value
}

// If is the ternary operator (eager evaluation)
func If[T any](cond bool, t, f T) T {
	if cond {
		return t
	}
	return f
}

// UnixSeconds converts t to the 32-bit seconds used by MRT timestamps.
// The zero time maps to 0.
func UnixSeconds(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix())
}
