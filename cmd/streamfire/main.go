package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/torosent/streamfire/internal/config"
	"github.com/torosent/streamfire/internal/logging"
	"github.com/torosent/streamfire/internal/metrics"
	"github.com/torosent/streamfire/internal/output"
	"github.com/torosent/streamfire/internal/runner"
	"github.com/torosent/streamfire/internal/spool"
	"github.com/torosent/streamfire/internal/threshold"
	"github.com/torosent/streamfire/internal/tracing"
	"github.com/torosent/streamfire/internal/upload"
	"github.com/torosent/streamfire/internal/version"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// errThresholdsFailed makes the process exit non-zero after the report is printed.
var errThresholdsFailed = errors.New("one or more thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.ConfigureLogger(log.StandardLogger(), stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	seed, err := cfg.SeedValue()
	if err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	logger := log.WithField("run_id", runID)
	logger.WithField("versions", version.String(version.Tags())).Debug("starting streamfire")

	if removed, err := spool.PruneStale(cfg.SpoolDir); err != nil {
		logger.WithError(err).Warn("pruning stale spool directories failed")
	} else if len(removed) > 0 {
		logger.Infof("removed %d stale spool directories", len(removed))
	}

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector.WithPrometheus(metrics.NewPrometheus(reg))
		srv, err := metrics.Serve(cfg.MetricsAddr, reg)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		logger.Infof("serving metrics on http://%s/metrics", srv.Addr())
		defer shutdown("metrics server", srv.Shutdown)
	}

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{
		ID:          runID,
		Attachments: cfg.Attachments,
		Seed:        seed,
		Bucket:      cfg.Bucket,
	})
	if err != nil {
		return err
	}
	defer shutdown("tracing provider", tp.Shutdown)

	uploader, err := upload.OpenBlobUploader(ctx, cfg.Bucket, upload.BlobOptions{
		Prefix:      cfg.BucketPrefix + runID + "/",
		Compression: upload.Compression(cfg.Compression),
		Logger:      logger.WithField("component", "upload"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := uploader.Close(); err != nil {
			logger.WithError(err).Warn("closing uploader failed")
		}
	}()

	r := runner.New(runner.Options{
		Attachments:     cfg.Attachments,
		SizeMin:         cfg.SizeMin,
		SizeMax:         cfg.SizeMax,
		DurationMin:     cfg.ProductionTimeMin,
		DurationMax:     cfg.ProductionTimeMax,
		SleepMin:        cfg.SleepMin,
		SleepMax:        cfg.SleepMax,
		FailIndexes:     cfg.FailIndexes,
		ForgetIndexes:   cfg.ForgetIndexes,
		MimeType:        cfg.MimeType,
		Seed:            seed,
		ProducerThreads: cfg.ProducerThreads,
		RunID:           runID,
		SpoolDir:        cfg.SpoolDir,
		Uploader:        uploader,
		Collector:       collector,
		Tracer:          tp.Tracer(),
		PropagateTrace:  tp.ShouldPropagate(),
		Logger:          log.NewEntry(log.StandardLogger()),
	})

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, cfg.Attachments, progressInterval, stderr)
		progress.Start()
	}
	report, err := r.Run(ctx)
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stderr)
	}
	if err != nil {
		return err
	}

	if cfg.LogErrors {
		logFailures(logger, report)
	}

	stats := collector.Stats(report.Duration)
	results := threshold.NewEvaluator(thresholds).Evaluate(stats)
	if err := output.Write(stdout, string(cfg.Output), output.NewSummary(report, stats, results)); err != nil {
		return err
	}
	for _, res := range results {
		if !res.Pass {
			return errThresholdsFailed
		}
	}
	return nil
}

// logFailures logs every attachment that ended with an error, with its stack.
func logFailures(logger *log.Entry, report runner.Report) {
	for _, rec := range report.Records {
		if rec.Err == nil {
			continue
		}
		entry := logger.WithFields(log.Fields{"index": rec.Index, "outcome": rec.Outcome})
		logging.WithStacktrace(entry, rec.Err).Error(rec.Diagnostic)
	}
}

func shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.WithError(err).Warnf("%s shutdown failed", name)
	}
}
