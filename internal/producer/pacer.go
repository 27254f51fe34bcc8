package producer

import (
	"math"
	"time"
)

// MaxScheduleDelay caps every re-schedule request.
const MaxScheduleDelay = 50 * time.Millisecond

// pacer is the pure timing model of a producer: size bytes spread at a
// constant rate over duration.
type pacer struct {
	size     int64
	duration time.Duration
}

func newPacer(size int64, duration time.Duration) pacer {
	return pacer{size: size, duration: duration}
}

// allowed returns floor(rate * elapsed), bounded by size.
func (p pacer) allowed(elapsed time.Duration) int64 {
	if p.duration <= 0 || elapsed >= p.duration {
		return p.size
	}
	if elapsed <= 0 {
		return 0
	}
	n := int64(math.Floor(float64(p.size) * float64(elapsed) / float64(p.duration)))
	if n > p.size {
		return p.size
	}
	return n
}

// nextByteDelay returns how long to wait until byte written+1 becomes due,
// capped at MaxScheduleDelay. Zero means it is already due.
func (p pacer) nextByteDelay(written int64, elapsed time.Duration) time.Duration {
	if p.duration <= 0 || written >= p.size {
		return 0
	}
	due := time.Duration(math.Ceil(float64(written+1) * float64(p.duration) / float64(p.size)))
	return capDelay(due - elapsed)
}

// remaining returns the time left until the target duration has elapsed.
func (p pacer) remaining(elapsed time.Duration) time.Duration {
	return p.duration - elapsed
}

func capDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d > MaxScheduleDelay {
		return MaxScheduleDelay
	}
	return d
}
