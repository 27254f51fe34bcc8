// Package producer implements the rate-paced byte emitter that simulates a
// single slow attachment writer.
//
// A [Producer] writes a deterministic stream of text into a [Sink] it owns,
// spreading the bytes evenly over a target duration. It never blocks a
// worker: every wait is expressed as a request to its [Scheduler] to run the
// next step after a computed delay, so a handful of workers can drive many
// producers at once.
//
// # Lifecycle
//
// A producer starts in [StateScheduled], moves to [StateWriting] on its first
// step and ends in either [StateCompleted] or [StateFailed]. The future
// returned by [Producer.Start] resolves exactly once when a terminal state is
// reached, and the sink is closed on every terminal transition.
//
// # Failure injection
//
// When [Spec.FailAt] is set the producer stops writing at that byte offset
// and fails with a [*FailureError] that matches [ErrFailureRequested].
//
// # Timing
//
// Completion never happens before the target duration has elapsed, even when
// all bytes were written early. Re-schedule delays are capped at
// [MaxScheduleDelay]; the pacing math is driven by an injectable [Clock] so it
// can be exercised on virtual time.
package producer
