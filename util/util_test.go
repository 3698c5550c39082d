package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/yolab/thorimager/util"
)

func ExampleClamp() {
	fmt.Println(util.Clamp(120, 0, 100))
	// Output: 100
}

func ExampleSecsToDuration() {
	fmt.Println(util.SecsToDuration(2.5))
	// Output: 2.5s
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: -5, Max: 5}
	if !l.Check(5) {
		t.Error("upper bound should be inclusive")
	}
	if l.Check(5.0001) {
		t.Error("5.0001 should violate a max of 5")
	}
	if l.Check(-6) {
		t.Error("-6 should violate a min of -5")
	}
}

func TestAllElementsNumbers(t *testing.T) {
	if !util.AllElementsNumbers("2.5") {
		t.Error("2.5 is all numbers")
	}
	if util.AllElementsNumbers("25ms") {
		t.Error("25ms is not all numbers")
	}
	if util.AllElementsNumbers("") {
		t.Error("empty string is not a number")
	}
}
