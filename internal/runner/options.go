package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/streamfire/internal/metrics"
	"github.com/torosent/streamfire/internal/upload"
)

// Options configure the Runner.
type Options struct {
	Attachments     int   // number of attachments to launch
	SizeMin         int64 // bytes
	SizeMax         int64
	DurationMin     int // production time, seconds
	DurationMax     int
	SleepMin        int // stagger between launches, seconds
	SleepMax        int
	FailIndexes     []int // indexes that fail partway through
	ForgetIndexes   []int // indexes whose upload is never completed
	MimeType        string
	Seed            *int64 // nil draws a seed from the clock
	ProducerThreads int    // scheduler worker budget

	RunID    string // generated when empty
	SpoolDir string // parent of the run directory; OS temp dir when empty

	Uploader       upload.Uploader // required
	Collector      *metrics.Collector
	Tracer         trace.Tracer
	PropagateTrace bool // store trace context in upload metadata
	Logger         *log.Entry

	// Sleep waits between launches. Tests replace it to run without delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ErrInvalidOptions matches every OptionsError.
var ErrInvalidOptions = errors.New("invalid run options")

// OptionsError lists every problem found in Options.
type OptionsError struct {
	Issues []string
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidOptions, strings.Join(e.Issues, "; "))
}

// Is makes errors.Is(err, ErrInvalidOptions) true.
func (e *OptionsError) Is(target error) bool {
	return target == ErrInvalidOptions
}

// Validate checks the ranges a run depends on.
func (o Options) Validate() error {
	var issues []string
	if o.Attachments < 1 {
		issues = append(issues, fmt.Sprintf("attachments must be >= 1, got %d", o.Attachments))
	}
	if o.SizeMin < 0 || o.SizeMax < o.SizeMin {
		issues = append(issues, fmt.Sprintf("illegal attachment size range [%d, %d] (min >= 0, max >= min)", o.SizeMin, o.SizeMax))
	}
	if o.DurationMin < 1 || o.DurationMax < o.DurationMin {
		issues = append(issues, fmt.Sprintf("illegal production time range [%d, %d]s (min >= 1, max >= min)", o.DurationMin, o.DurationMax))
	}
	if o.SleepMin < 0 || o.SleepMax < o.SleepMin {
		issues = append(issues, fmt.Sprintf("illegal sleep range [%d, %d]s (min >= 0, max >= min)", o.SleepMin, o.SleepMax))
	}
	if o.ProducerThreads < 1 {
		issues = append(issues, fmt.Sprintf("producer threads must be >= 1, got %d", o.ProducerThreads))
	}
	if o.Uploader == nil {
		issues = append(issues, "uploader is required")
	}
	if len(issues) > 0 {
		return &OptionsError{Issues: issues}
	}
	return nil
}

func (o *Options) normalize() {
	if strings.TrimSpace(o.MimeType) == "" {
		o.MimeType = upload.DefaultMimeType
	}
	if o.Seed == nil {
		seed := time.Now().UnixNano()
		o.Seed = &seed
	}
	if o.RunID == "" {
		o.RunID = ulid.Make().String()
	}
	if o.Collector == nil {
		o.Collector = metrics.NewCollector()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("streamfire")
	}
	if o.Logger == nil {
		o.Logger = log.NewEntry(log.StandardLogger())
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// threads is the scheduler size: never more workers than attachments.
func (o Options) threads() int {
	return min(o.Attachments, o.ProducerThreads)
}

func indexSet(indexes []int) map[int]bool {
	set := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		if i >= 0 {
			set[i] = true
		}
	}
	return set
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
