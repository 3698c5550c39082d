// Package util contains misc internal utilities.
package util

import (
	"strings"
	"time"
	"unicode"
)

// Limiter imposes software limits on a value, such as an axis position
type Limiter struct {
	// Min is the minimum allowed value
	Min float64 `yaml:"Min" json:"min"`

	// Max is the maximum allowed value
	Max float64 `yaml:"Max" json:"max"`
}

// Check returns true if min <= input <= max
func (l Limiter) Check(input float64) bool {
	return input >= l.Min && input <= l.Max
}

// Clamp limits a value to the range [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// SecsToDuration converts a floating point number of seconds to a time.Duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs*1e9 + 0.5)
}

// AllElementsNumbers returns true if every rune in s is a digit or a decimal point.
// e.g. "25" => true, "25ms" => false
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(unicode.IsDigit(r) || r == '.')
	}) == -1
}
