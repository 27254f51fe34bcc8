package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/streamfire/internal/future"
	"github.com/torosent/streamfire/internal/logging"
	"github.com/torosent/streamfire/internal/metrics"
	"github.com/torosent/streamfire/internal/producer"
	"github.com/torosent/streamfire/internal/scheduler"
	"github.com/torosent/streamfire/internal/spool"
	"github.com/torosent/streamfire/internal/tracing"
	"github.com/torosent/streamfire/internal/upload"
	"github.com/torosent/streamfire/internal/version"
)

// Runner launches attachments and settles their uploads.
type Runner struct {
	opt Options
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// attachment tracks one index through launch and finalization. record is
// owned by the launching goroutine until produced resolves and by the
// finalizing goroutine afterwards.
type attachment struct {
	index  int
	forget bool
	log    *log.Entry
	span   trace.Span

	prod     *producer.Producer
	sess     upload.Session
	produced *future.Future
	settled  *future.Future

	record CompletionRecord
}

// Run executes the run. Only invalid options and a spool directory that
// cannot be prepared are returned as errors; attachment failures are
// recorded in the report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if err := r.opt.Validate(); err != nil {
		return Report{}, err
	}
	opt := r.opt
	start := time.Now()
	logger := opt.Logger.WithField("run_id", opt.RunID)

	ctx, span := tracing.StartRunSpan(ctx, opt.Tracer, opt.RunID, opt.Attachments, *opt.Seed)

	dir, err := spool.Create(opt.SpoolDir, opt.RunID)
	if err != nil {
		err = errors.Wrap(err, "prepare spool directory")
		tracing.EndSpan(span, err)
		return Report{}, err
	}

	threads := opt.threads()
	sched := scheduler.New(threads)
	logger.Infof("Using %d producer-scheduler-with-%d-threads workers for %d producers", threads, threads, opt.Attachments)

	fail := indexSet(opt.FailIndexes)
	forget := indexSet(opt.ForgetIndexes)
	src := newParamSource(*opt.Seed)

	report := Report{
		RunID:       opt.RunID,
		Seed:        *opt.Seed,
		Attachments: opt.Attachments,
		Threads:     threads,
		Versions:    version.Tags(),
	}

	var atts []*attachment
	var producing []*future.Future
	for i := 0; i < opt.Attachments; i++ {
		p := src.draw(i, &opt, fail[i])
		if i != 0 {
			if err := opt.Sleep(ctx, p.sleep); err != nil {
				logger.WithError(err).Warn("run interrupted; no further attachments launched")
				report.Interrupted = true
				break
			}
		}
		a := r.launch(ctx, logger, dir, sched, i, p, forget[i])
		atts = append(atts, a)
		if a.produced != nil {
			producing = append(producing, a.produced)
		}
	}

	logger.Infof("%d producers started, awaiting results", len(producing))
	if err := future.WaitAll(ctx, producing...); err != nil && ctx.Err() != nil {
		logger.WithError(err).Warn("run interrupted while producers were writing")
		report.Interrupted = true
	} else {
		logger.Info("all producers completed; completing uploads")
	}

	settling := make([]*future.Future, 0, len(atts))
	for _, a := range atts {
		settling = append(settling, a.settled)
	}
	if !report.Interrupted {
		if err := future.WaitAll(ctx, settling...); err != nil && ctx.Err() != nil {
			report.Interrupted = true
		}
	}

	r.teardown(logger, sched, atts, settling, dir)
	logger.Info("all uploads completed")

	for _, a := range atts {
		report.Records = append(report.Records, a.record)
		if a.record.Err != nil && (a.record.Outcome == OutcomeFailed || a.record.Outcome == OutcomeFinalizeFailed) {
			if report.Diagnostics == nil {
				report.Diagnostics = make(map[string]string)
			}
			report.Diagnostics[DiagnosticKey(a.index)] = a.record.Diagnostic
		}
	}
	report.Duration = time.Since(start)
	report.DurationMs = report.Duration.Milliseconds()

	tracing.EndSpan(span, nil,
		attribute.Int("streamfire.completed", report.Count(OutcomeCompleted)),
		attribute.Int("streamfire.failed", report.Count(OutcomeFailed)),
		attribute.Bool("streamfire.interrupted", report.Interrupted),
	)
	logger.Info("run finished")
	return report, nil
}

func (r *Runner) launch(ctx context.Context, logger *log.Entry, dir *spool.RunDir, sched *scheduler.Scheduler, index int, p params, forget bool) *attachment {
	a := &attachment{
		index:  index,
		forget: forget,
		log:    logger.WithField("index", index),
		record: CompletionRecord{
			Index:      index,
			Size:       p.size,
			Duration:   p.duration,
			DurationMs: p.duration.Milliseconds(),
		},
	}
	if p.failAt != producer.NoFailure {
		failAt := p.failAt
		a.record.FailAt = &failAt
	}
	ctx, a.span = tracing.StartAttachmentSpan(ctx, r.opt.Tracer, index, p.size, p.duration)

	path, err := dir.CreateTemp(fmt.Sprintf("stream-%d-*.txt", index))
	if err != nil {
		a.settled = future.Resolved(r.settle(a, OutcomeStartFailed, errors.Wrapf(err, "attachment %d", index)))
		return a
	}

	meta := upload.Metadata{Filename: filepath.Base(path), Attachment: index}
	if r.opt.MimeType != upload.DefaultMimeType {
		// Explicit metadata path; the default type is left to the uploader.
		meta.MimeType = r.opt.MimeType
	}
	if r.opt.PropagateTrace {
		meta.Labels = tracing.InjectLabels(ctx, nil)
	}
	sess, err := r.opt.Uploader.Start(ctx, path, meta)
	if err != nil {
		logging.WithStacktrace(a.log, err).Error("Error starting upload")
		a.settled = future.Resolved(r.settle(a, OutcomeStartFailed, errors.Wrapf(err, "attachment %d: start upload", index)))
		return a
	}
	a.sess = sess

	prod, err := r.newProducer(path, sched, a.log, producer.Spec{
		Index:    index,
		Size:     p.size,
		Duration: p.duration,
		FailAt:   p.failAt,
		Seed:     p.seed,
	})
	if err != nil {
		err = errors.Wrapf(err, "attachment %d", index)
		r.cancel(ctx, a, err)
		a.settled = future.Resolved(r.settle(a, OutcomeFailed, err))
		return a
	}
	a.prod = prod

	r.opt.Collector.ProducerStarted()
	a.produced = prod.Start()
	a.settled = a.produced.Then(func(err error) error {
		return r.finalize(ctx, a, err)
	})
	return a
}

func (r *Runner) newProducer(path string, sched *scheduler.Scheduler, entry *log.Entry, spec producer.Spec) (*producer.Producer, error) {
	sink, err := producer.CreateFileSink(path)
	if err != nil {
		return nil, err
	}
	prod, err := producer.New(spec, sink, sched,
		producer.WithLogger(entry),
		producer.WithProgress(r.opt.Collector.AddBytes),
	)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	return prod, nil
}

// finalize runs once the producer of a is terminal.
func (r *Runner) finalize(ctx context.Context, a *attachment, err error) error {
	r.opt.Collector.ProducerFinished()
	a.record.Written = a.prod.Written()
	a.record.Elapsed = a.prod.Elapsed()
	a.record.ElapsedMs = a.record.Elapsed.Milliseconds()

	if err != nil {
		err = errors.Wrapf(err, "attachment %d", a.index)
		a.log.Warnf("Upload %d failed: %v", a.index, err)
		r.cancel(ctx, a, err)
		return r.settle(a, OutcomeFailed, err)
	}
	if a.forget {
		a.log.Warnf("Forgetting to complete upload %d as requested", a.index)
		return r.settle(a, OutcomeForgotten, nil)
	}

	a.log.Infof("Completing upload %d normally", a.index)
	res, err := r.opt.Uploader.Complete(ctx, a.sess)
	if err != nil {
		err = errors.Wrapf(err, "attachment %d: complete upload", a.index)
		logging.WithStacktrace(a.log, err).Warnf("upload %d failed", a.index)
		r.cancel(ctx, a, err)
		return r.settle(a, OutcomeFinalizeFailed, err)
	}
	a.record.Upload = &res
	a.log.WithFields(log.Fields{"key": res.Key, "size": res.Size}).Infof("upload %d completed", a.index)
	return r.settle(a, OutcomeCompleted, nil)
}

// cancel aborts the upload session of a with cause. It runs even when the
// run context is already done.
func (r *Runner) cancel(ctx context.Context, a *attachment, cause error) {
	if a.sess == nil {
		return
	}
	if err := r.opt.Uploader.Cancel(context.WithoutCancel(ctx), a.sess, cause); err != nil {
		entry := a.log.WithError(err)
		if errors.Is(err, upload.ErrUnknownSession) {
			entry.Debug("upload session already settled")
			return
		}
		entry.Warnf("cancel of upload %d failed", a.index)
	}
}

func (r *Runner) settle(a *attachment, outcome Outcome, err error) error {
	a.record.Outcome = outcome
	if err != nil {
		a.record.Err = err
		a.record.Diagnostic = logging.RootCause(err).Error()
	}
	r.opt.Collector.RecordAttachment(metrics.Attachment{
		Index:    a.index,
		Outcome:  string(outcome),
		Written:  a.record.Written,
		Target:   a.record.Duration,
		Elapsed:  a.record.Elapsed,
		Produced: a.prod != nil && a.prod.State() == producer.StateCompleted,
		Err:      err,
	})
	tracing.EndSpan(a.span, err,
		attribute.String("streamfire.outcome", string(outcome)),
		attribute.Int64("streamfire.attachment.written", a.record.Written),
	)
	return err
}

// teardown stops the scheduler, closes producers that never finished, waits
// for every attachment to settle and removes the spool files. Errors are
// logged and never returned.
func (r *Runner) teardown(logger *log.Entry, sched *scheduler.Scheduler, atts []*attachment, settling []*future.Future, dir *spool.RunDir) {
	sched.Shutdown()
	for _, a := range atts {
		if a.prod == nil || a.prod.State().Terminal() {
			continue
		}
		a.log.Warn("closing unfinished producer")
		if err := a.prod.Close(); err != nil {
			a.log.WithError(err).Warn("closing sink failed")
		}
	}
	sched.Wait()
	_ = future.WaitAll(context.Background(), settling...)

	if err := dir.Remove(); err != nil {
		logger.WithError(err).Warn("removing spool files failed")
	}
}
