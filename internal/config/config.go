package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/torosent/streamfire/internal/threshold"
)

// OutputFormat selects how the run report is written.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// Defaults of a run.
const (
	DefaultAttachments       = 2
	DefaultSizeMin           = 100
	DefaultSizeMax           = 100000
	DefaultProductionTimeMin = 10
	DefaultProductionTimeMax = 30
	DefaultSleepMin          = 1
	DefaultSleepMax          = 3
	DefaultMimeType          = "text/plain"
	DefaultSeed              = "31337"
	DefaultProducerThreads   = 2
	DefaultBucket            = "mem://"
)

type Config struct {
	Attachments       int           `mapstructure:"attachments"`
	SizeMin           int64         `mapstructure:"size_min"`
	SizeMax           int64         `mapstructure:"size_max"`
	ProductionTimeMin int           `mapstructure:"production_time_min"` // seconds
	ProductionTimeMax int           `mapstructure:"production_time_max"`
	SleepMin          int           `mapstructure:"sleep_between_min"` // seconds
	SleepMax          int           `mapstructure:"sleep_between_max"`
	FailIndexes       []int         `mapstructure:"fail_indexes"`
	ForgetIndexes     []int         `mapstructure:"forget_indexes"`
	MimeType          string        `mapstructure:"mime_type"`
	Seed              string        `mapstructure:"seed"` // empty means non-deterministic
	ProducerThreads   int           `mapstructure:"producer_threads"`
	Bucket            string        `mapstructure:"bucket"`
	BucketPrefix      string        `mapstructure:"bucket_prefix"`
	Compression       string        `mapstructure:"compression"`
	SpoolDir          string        `mapstructure:"spool_dir"`
	Output            OutputFormat  `mapstructure:"output"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
	LogErrors         bool          `mapstructure:"log_errors"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
	Progress          bool          `mapstructure:"progress"`
	Thresholds        []string      `mapstructure:"thresholds"`
	Tracing           TracingConfig `mapstructure:"tracing"`
	ConfigFile        string        `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	// Propagate stores trace context in upload metadata. Defaults to true
	// when tracing is enabled.
	Propagate *bool `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured, directly or via
// OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context should be propagated.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	return t.Propagate == nil || *t.Propagate
}

// SeedValue parses Seed. A blank seed yields nil.
func (c Config) SeedValue() (*int64, error) {
	s := strings.TrimSpace(c.Seed)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("seed must be an integer, got %q", c.Seed)
	}
	return &v, nil
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Attachments < 1 {
		issues = append(issues, "attachments must be at least 1")
	}
	if c.SizeMin < 0 || c.SizeMax < c.SizeMin {
		issues = append(issues, "illegal attachment size params (must be >= 0 and max >= min)")
	}
	if c.ProductionTimeMin < 1 || c.ProductionTimeMax < c.ProductionTimeMin {
		issues = append(issues, "illegal production time params (must be > 0 and max >= min)")
	}
	if c.SleepMin < 0 || c.SleepMax < c.SleepMin {
		issues = append(issues, "illegal sleep params (must be >= 0 and max >= min)")
	}
	if c.ProducerThreads < 1 {
		issues = append(issues, "producer threads must be at least 1")
	}
	if _, err := c.SeedValue(); err != nil {
		issues = append(issues, err.Error())
	}
	if strings.TrimSpace(c.Bucket) == "" {
		issues = append(issues, "bucket URL is required")
	}
	switch strings.ToLower(c.Compression) {
	case "", "none", "zstd":
	default:
		issues = append(issues, fmt.Sprintf("unsupported compression %q (use none or zstd)", c.Compression))
	}
	switch c.Output {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("unsupported output %q (use text, json or yaml)", c.Output))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("unsupported log format %q (use text or json)", c.LogFormat))
	}
	if _, err := threshold.ParseMultiple(c.Thresholds); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q must be grpc or http", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
