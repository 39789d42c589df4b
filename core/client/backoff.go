package client

import (
	"time"
)

// retryPolicy doubles the wait between consecutive failed attempts, bounded
// by [minInterval, maxInterval].
type retryPolicy struct {
	minInterval time.Duration
	maxInterval time.Duration
	interval    time.Duration
}

func newRetryPolicy(minInterval, maxInterval time.Duration) retryPolicy {
	if minInterval <= 0 {
		panic("invalid minimum retry interval")
	}
	if maxInterval < minInterval {
		panic("invalid maximum retry interval")
	}
	return retryPolicy{
		minInterval: minInterval,
		maxInterval: maxInterval,
		interval:    minInterval,
	}
}

// next returns the wait before the next attempt and grows the interval for
// the attempt after that.
func (p *retryPolicy) next() time.Duration {
	d := p.interval
	p.interval = min(2*p.interval, p.maxInterval)
	return d
}

func (p *retryPolicy) reset() {
	p.interval = p.minInterval
}
