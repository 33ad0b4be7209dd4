package transaction

import "time"

// minRetryStep is the smallest jitter window between retries when a delay
// range is configured.
const minRetryStep = time.Millisecond

// backoff computes non-decreasing retry delays with jitter. Delays never go
// below min, and once the accumulated delay reaches max it stays there,
// leaving only the jitter window on top.
type backoff struct {
	min, max     time.Duration
	step         time.Duration
	intermediate time.Duration
	last         time.Duration
	random       func(n int64) int64
}

func newBackoff(o Options, random func(n int64) int64) *backoff {
	b := &backoff{
		min:          o.MinRetryDelay,
		max:          o.MaxRetryDelay,
		intermediate: o.MinRetryDelay,
		random:       random,
	}
	if b.min < b.max {
		b.step = (b.max - b.min) / time.Duration(o.MaxAttempts+1)
		if b.step < minRetryStep {
			b.step = minRetryStep
		}
	}
	return b
}

// next returns the delay to wait after the attempt-th failed attempt (1-based).
func (b *backoff) next(attempt int) time.Duration {
	switch {
	case b.min < b.max:
		b.intermediate += b.step * time.Duration(attempt)
		if b.intermediate > b.max {
			b.intermediate = b.max
		}
		delay := b.intermediate + time.Duration(b.random(int64(b.step)))
		if delay < b.last {
			delay = b.last
		}
		b.last = delay
		return delay
	case b.min == b.max:
		return b.min
	default:
		return 0
	}
}
