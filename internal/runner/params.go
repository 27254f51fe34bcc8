package runner

import (
	"math/rand"
	"time"

	"github.com/torosent/streamfire/internal/producer"
)

// params are the drawn parameters of one attachment.
type params struct {
	sleep    time.Duration
	size     int64
	duration time.Duration
	failAt   int64
	seed     int64
}

// paramSource draws attachment parameters. It must only be used from the
// orchestrating goroutine.
type paramSource struct {
	rnd *rand.Rand
}

func newParamSource(seed int64) *paramSource {
	return &paramSource{rnd: rand.New(rand.NewSource(seed))}
}

// nextInt returns min when the range is empty, otherwise a value in
// [min, max).
func (s *paramSource) nextInt(min, max int64) int64 {
	if min >= max {
		return min
	}
	return min + s.rnd.Int63n(max-min)
}

func (s *paramSource) draw(index int, opt *Options, fail bool) params {
	p := params{failAt: producer.NoFailure}
	if index != 0 {
		p.sleep = time.Duration(s.nextInt(int64(opt.SleepMin)*1000, int64(opt.SleepMax)*1000)) * time.Millisecond
	}
	p.size = s.nextInt(opt.SizeMin, opt.SizeMax)
	p.duration = time.Duration(s.nextInt(int64(opt.DurationMin), int64(opt.DurationMax))) * time.Second
	if fail {
		p.failAt = s.failOffset(p.size)
	}
	p.seed = s.rnd.Int63()
	return p
}

// failOffset draws an offset below half the size. A one-byte attachment
// fails before its only byte; an empty one cannot fail.
func (s *paramSource) failOffset(size int64) int64 {
	half := size / 2
	switch {
	case half > 0:
		return s.rnd.Int63n(half)
	case size == 1:
		return 0
	default:
		return producer.NoFailure
	}
}
