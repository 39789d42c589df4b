package timemath

import (
	"slices"
	"time"
)

func Abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func Midpoint(x, y time.Duration) time.Duration {
	return x + (y-x)/2
}

// Median sorts ds in place.
func Median(ds []time.Duration) time.Duration {
	n := len(ds)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(ds)
	i := n / 2
	if n%2 != 0 {
		return ds[i]
	}
	return Midpoint(ds[i-1], ds[i])
}
