package timemath_test

import (
	"testing"
	"time"

	"example.com/timesync/base/timemath"
)

func TestAbs(t *testing.T) {
	tests := []struct {
		d, want time.Duration
	}{
		{-3 * time.Millisecond, 3 * time.Millisecond},
		{0, 0},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := timemath.Abs(tt.d); got != tt.want {
			t.Errorf("timemath.Abs(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestMidpoint(t *testing.T) {
	tests := []struct {
		x, y, want time.Duration
	}{
		{0, 10 * time.Millisecond, 5 * time.Millisecond},
		{-time.Second, time.Second, 0},
		{4 * time.Second, 2 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := timemath.Midpoint(tt.x, tt.y); got != tt.want {
			t.Errorf("timemath.Midpoint(%v, %v) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		ds   []time.Duration
		want time.Duration
	}{
		{[]time.Duration{7}, 7},
		{[]time.Duration{9, 1, 5}, 5},
		{[]time.Duration{4, -2, 8, 0}, 2},
	}
	for _, tt := range tests {
		if got := timemath.Median(tt.ds); got != tt.want {
			t.Errorf("timemath.Median(%v) = %v, want %v", tt.ds, got, tt.want)
		}
	}
}

func TestMedianEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("timemath.Median(nil) did not panic")
		}
	}()
	timemath.Median(nil)
}
