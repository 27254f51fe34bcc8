package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "streamfire",
		Short:         "Simulate concurrent slow streaming uploads",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Attachment parameters
	flags.IntP("attachments", "n", DefaultAttachments, "Number of attachments to stream")
	flags.Int64("size-min", DefaultSizeMin, "Minimum attachment size in bytes")
	flags.Int64("size-max", DefaultSizeMax, "Maximum attachment size in bytes (exclusive unless equal to min)")
	flags.Int("production-time-min", DefaultProductionTimeMin, "Minimum production time in seconds")
	flags.Int("production-time-max", DefaultProductionTimeMax, "Maximum production time in seconds")
	flags.Int("sleep-between-min", DefaultSleepMin, "Minimum pause between attachment starts in seconds")
	flags.Int("sleep-between-max", DefaultSleepMax, "Maximum pause between attachment starts in seconds")
	flags.String("fail-indexes", "", "Attachment indexes that fail mid-stream (e.g. '1,3' or '1;3')")
	flags.String("forget-indexes", "", "Attachment indexes whose upload is never completed")
	flags.String("mime-type", DefaultMimeType, "MIME type of the uploaded attachments")
	flags.String("seed", DefaultSeed, "Random seed (empty for a non-deterministic run)")
	flags.Int("producer-threads", DefaultProducerThreads, "Producer scheduler worker count")

	// Upload target
	flags.String("bucket", DefaultBucket, "Bucket URL (mem://, file:///dir, gs://, s3://)")
	flags.String("bucket-prefix", "", "Object key prefix; the run ID is appended")
	flags.String("compression", "none", "Object content encoding: 'none' or 'zstd'")
	flags.String("spool-dir", "", "Directory for producer spool files (defaults to the system temp dir)")

	// Output flags
	flags.StringP("output", "o", string(OutputText), "Report format: 'text', 'json' or 'yaml'")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format: 'text' or 'json'")
	flags.Bool("log-errors", false, "Log each failed attachment with its stack trace")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. ':9090')")
	flags.Bool("progress", false, "Print a live progress line to stderr")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Run thresholds (repeatable, e.g., 'completion_lag:p99 < 500')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported in traces")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", true, "Store trace context in upload metadata")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	ints := map[string]*int{
		"attachments":         &cfg.Attachments,
		"production-time-min": &cfg.ProductionTimeMin,
		"production-time-max": &cfg.ProductionTimeMax,
		"sleep-between-min":   &cfg.SleepMin,
		"sleep-between-max":   &cfg.SleepMax,
		"producer-threads":    &cfg.ProducerThreads,
	}
	for name, dst := range ints {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	int64s := map[string]*int64{
		"size-min": &cfg.SizeMin,
		"size-max": &cfg.SizeMax,
	}
	for name, dst := range int64s {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt64(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	strs := map[string]*string{
		"mime-type":            &cfg.MimeType,
		"seed":                 &cfg.Seed,
		"bucket":               &cfg.Bucket,
		"bucket-prefix":        &cfg.BucketPrefix,
		"compression":          &cfg.Compression,
		"spool-dir":            &cfg.SpoolDir,
		"log-level":            &cfg.LogLevel,
		"log-format":           &cfg.LogFormat,
		"metrics-addr":         &cfg.MetricsAddr,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(val)
	}

	bools := map[string]*bool{
		"log-errors":       &cfg.LogErrors,
		"progress":         &cfg.Progress,
		"tracing-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range bools {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	for name, dst := range map[string]*[]int{
		"fail-indexes":   &cfg.FailIndexes,
		"forget-indexes": &cfg.ForgetIndexes,
	} {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		items, err := parseIndexList(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = items
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	return nil
}
