package producer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/torosent/streamfire/internal/content"
	"github.com/torosent/streamfire/internal/future"
)

// ChunkSize is the write granularity. It bounds how far a single write can
// overshoot a failure offset and has no influence on timing.
const ChunkSize = 128

// State is the lifecycle state of a producer.
type State int32

const (
	StateScheduled State = iota
	StateWriting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateWriting:
		return "writing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Scheduler re-dispatches a step after a delay.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) bool
}

// Option configures a Producer.
type Option func(*Producer)

// WithClock replaces the wall clock used for pacing and elapsed time.
func WithClock(c clock.PassiveClock) Option {
	return func(p *Producer) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the log entry used by the producer.
func WithLogger(entry *log.Entry) Option {
	return func(p *Producer) {
		if entry != nil {
			p.log = entry
		}
	}
}

// WithProgress registers a callback invoked with the size of every batch
// written to the sink. It runs on scheduler workers and must not block.
func WithProgress(fn func(delta int64)) Option {
	return func(p *Producer) {
		p.progress = fn
	}
}

// Producer emits deterministic content into its sink at a constant rate.
type Producer struct {
	spec     Spec
	sink     Sink
	sched    Scheduler
	clock    clock.PassiveClock
	log      *log.Entry
	progress func(int64)
	chatter  rate.Sometimes

	pace pacer
	gen  *content.Generator
	buf  []byte
	done *future.Future

	startOnce sync.Once

	// mu serializes steps with Close, which may run from the teardown path.
	mu       sync.Mutex
	start    time.Time
	finished time.Time
	closed   bool

	state   atomic.Int32
	written atomic.Int64
}

// New creates a producer for spec writing into sink. The producer takes
// ownership of sink and closes it on every terminal transition.
func New(spec Spec, sink Sink, sched Scheduler, opts ...Option) (*Producer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("producer %d: sink is required", spec.Index)
	}
	if sched == nil {
		return nil, fmt.Errorf("producer %d: scheduler is required", spec.Index)
	}
	p := &Producer{
		spec:    spec,
		sink:    sink,
		sched:   sched,
		clock:   clock.RealClock{},
		log:     log.WithField("index", spec.Index),
		chatter: rate.Sometimes{First: 1, Interval: time.Second},
		pace:    newPacer(spec.Size, spec.Duration),
		gen:     content.NewGenerator(spec.Seed),
		buf:     make([]byte, ChunkSize),
		done:    future.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start dispatches the first step with zero delay and returns the completion
// future. Calling Start again returns the same future.
func (p *Producer) Start() *future.Future {
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.start = p.clock.Now()
		p.mu.Unlock()

		p.log.WithFields(log.Fields{
			"size":     p.spec.Size,
			"duration": p.spec.Duration,
			"fail_at":  failAtField(p.spec),
		}).Info("producer starting")

		if !p.sched.Schedule(0, p.step) {
			p.mu.Lock()
			p.fail(ErrSchedulerStopped)
			p.mu.Unlock()
		}
	})
	return p.done
}

// Done returns the completion future without starting the producer.
func (p *Producer) Done() *future.Future {
	return p.done
}

// Spec returns the producer parameters.
func (p *Producer) Spec() Spec {
	return p.spec
}

// State returns the current lifecycle state.
func (p *Producer) State() State {
	return State(p.state.Load())
}

// Written returns the number of bytes written so far.
func (p *Producer) Written() int64 {
	return p.written.Load()
}

// Elapsed returns the time from start to the terminal transition, or to now
// while the producer is still running.
func (p *Producer) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return 0
	}
	if !p.finished.IsZero() {
		return p.finished.Sub(p.start)
	}
	return p.clock.Now().Sub(p.start)
}

// Close closes the sink if it is still open. A producer that has not reached
// a terminal state fails with ErrClosed.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State().Terminal() {
		return nil
	}
	err := p.closeSink()
	p.finish(StateFailed, ErrClosed)
	return err
}

func (p *Producer) step() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State().Terminal() {
		return
	}
	if err := p.advance(); err != nil {
		p.fail(err)
	}
}

func (p *Producer) advance() error {
	p.state.CompareAndSwap(int32(StateScheduled), int32(StateWriting))

	if p.spec.Size == 0 {
		return p.finishAfterRemaining()
	}
	if p.failReached() {
		return p.failure()
	}
	if p.written.Load() >= p.spec.Size {
		return p.finishAfterRemaining()
	}

	elapsed := p.clock.Now().Sub(p.start)
	allowed := p.pace.allowed(elapsed)
	if p.spec.HasFailure() && allowed > p.spec.FailAt {
		allowed = p.spec.FailAt
	}

	if toWrite := allowed - p.written.Load(); toWrite > 0 {
		if err := p.write(toWrite); err != nil {
			return err
		}
		if p.failReached() {
			return p.failure()
		}
		if p.written.Load() >= p.spec.Size {
			return p.finishAfterRemaining()
		}
	}
	return p.reschedule(p.pace.nextByteDelay(p.written.Load(), elapsed))
}

func (p *Producer) write(toWrite int64) error {
	for toWrite > 0 {
		if p.failReached() {
			return nil
		}
		n := toWrite
		if n > ChunkSize {
			n = ChunkSize
		}
		chunk := p.buf[:n]
		p.gen.Fill(chunk)
		if _, err := p.sink.Write(chunk); err != nil {
			return fmt.Errorf("producer %d: write: %w", p.spec.Index, err)
		}
		if err := p.sink.Flush(); err != nil {
			return fmt.Errorf("producer %d: flush: %w", p.spec.Index, err)
		}
		written := p.written.Add(n)
		toWrite -= n
		if p.progress != nil {
			p.progress(n)
		}
		p.chatter.Do(func() {
			p.log.WithField("written", written).Debug("producer progress")
		})
	}
	return nil
}

func (p *Producer) failReached() bool {
	return p.spec.HasFailure() && p.written.Load() >= p.spec.FailAt
}

func (p *Producer) failure() error {
	p.log.Warnf("failing at requested byte %d", p.spec.FailAt)
	return &FailureError{Index: p.spec.Index, Offset: p.spec.FailAt}
}

func (p *Producer) finishAfterRemaining() error {
	remaining := p.pace.remaining(p.clock.Now().Sub(p.start))
	if remaining <= 0 {
		p.complete()
		return nil
	}
	return p.reschedule(capDelay(remaining))
}

func (p *Producer) reschedule(delay time.Duration) error {
	if !p.sched.Schedule(delay, p.step) {
		return ErrSchedulerStopped
	}
	return nil
}

func (p *Producer) complete() {
	if err := p.sink.Flush(); err != nil {
		p.fail(fmt.Errorf("producer %d: flush: %w", p.spec.Index, err))
		return
	}
	if err := p.closeSink(); err != nil {
		p.log.WithError(err).Warn("closing sink")
	}
	p.log.WithField("written", p.written.Load()).Info("producer completed")
	p.finish(StateCompleted, nil)
}

func (p *Producer) fail(err error) {
	if cerr := p.closeSink(); cerr != nil {
		p.log.WithError(cerr).Warn("closing sink")
	}
	p.log.WithError(err).Info("producer failed")
	p.finish(StateFailed, err)
}

func (p *Producer) finish(state State, err error) {
	p.finished = p.clock.Now()
	p.state.Store(int32(state))
	p.done.Resolve(err)
}

func (p *Producer) closeSink() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sink.Close()
}

func failAtField(spec Spec) interface{} {
	if !spec.HasFailure() {
		return nil
	}
	return spec.FailAt
}
