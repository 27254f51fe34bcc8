// Package scheduler implements the shared re-scheduler that runs delayed steps
// on a small, fixed set of worker goroutines.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// Scheduler runs submitted functions on a bounded worker pool after a delay.
// Delays are honored approximately; the pool makes no real-time guarantees.
type Scheduler struct {
	workers int
	tasks   chan func()
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
	wg      sync.WaitGroup
	clock   clock.WithDelayedExecution

	mu      sync.Mutex
	pending map[*delayed]struct{}
}

// delayed is one submission waiting on its timer. The timer is nil until
// AfterFunc returns.
type delayed struct {
	timer clock.Timer
}

// New starts a scheduler with the given number of workers on the wall clock.
// Values below one are raised to one.
func New(workers int) *Scheduler {
	return NewWithClock(workers, clock.RealClock{})
}

// NewWithClock starts a scheduler whose delays are measured on clk.
func NewWithClock(workers int, clk clock.WithDelayedExecution) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Scheduler{
		workers: workers,
		tasks:   make(chan func(), workers*2),
		done:    make(chan struct{}),
		clock:   clk,
		pending: make(map[*delayed]struct{}),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Workers reports the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Schedule arranges for fn to run once on a worker after delay. It never
// blocks, so steps may re-schedule themselves from inside a worker. It returns
// false if the scheduler has been shut down.
//
// The clock is never called with mu held: fake clocks run AfterFunc
// callbacks under their own lock, and the callback takes mu.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) bool {
	if fn == nil || s.stopped.Load() {
		return false
	}
	if delay < 0 {
		delay = 0
	}

	d := &delayed{}
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return false
	}
	s.pending[d] = struct{}{}
	s.mu.Unlock()

	timer := s.clock.AfterFunc(delay, func() { s.fire(d, fn) })

	s.mu.Lock()
	d.timer = timer
	stopped := s.stopped.Load()
	s.mu.Unlock()
	if stopped {
		timer.Stop()
		return false
	}
	return true
}

// Pending reports how many delayed submissions have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown stops the scheduler abruptly: pending timers are cancelled and
// queued work is dropped. Functions already running are left to finish.
// Shutdown is idempotent and does not wait for workers.
func (s *Scheduler) Shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped.Store(true)
		timers := make([]clock.Timer, 0, len(s.pending))
		for d := range s.pending {
			if d.timer != nil {
				timers = append(timers, d.timer)
			}
		}
		s.pending = make(map[*delayed]struct{})
		close(s.done)
		s.mu.Unlock()

		for _, timer := range timers {
			timer.Stop()
		}
	})
}

func (s *Scheduler) fire(d *delayed, fn func()) {
	s.mu.Lock()
	_, live := s.pending[d]
	delete(s.pending, d)
	s.mu.Unlock()
	if live {
		s.submit(fn)
	}
}

// Wait blocks until every worker has exited. Call it after Shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) submit(fn func()) {
	select {
	case <-s.done:
	case s.tasks <- fn:
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.tasks:
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}
