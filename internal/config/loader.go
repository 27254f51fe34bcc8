package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Default returns a Config holding the built-in defaults.
func Default() *Config {
	return &Config{
		Attachments:       DefaultAttachments,
		SizeMin:           DefaultSizeMin,
		SizeMax:           DefaultSizeMax,
		ProductionTimeMin: DefaultProductionTimeMin,
		ProductionTimeMax: DefaultProductionTimeMax,
		SleepMin:          DefaultSleepMin,
		SleepMax:          DefaultSleepMax,
		MimeType:          DefaultMimeType,
		Seed:              DefaultSeed,
		ProducerThreads:   DefaultProducerThreads,
		Bucket:            DefaultBucket,
		Compression:       "none",
		Output:            OutputText,
		LogLevel:          "info",
		LogFormat:         "text",
		Tracing:           TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a
// Config. Precedence is defaults, then the config file, then flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.MimeType = strings.TrimSpace(cfg.MimeType)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.Compression = strings.ToLower(strings.TrimSpace(cfg.Compression))
	cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(string(cfg.Output))))
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"attachments"}, &cfg.Attachments},
		{[]string{"production_time_min", "production-time-min", "productiontimemin"}, &cfg.ProductionTimeMin},
		{[]string{"production_time_max", "production-time-max", "productiontimemax"}, &cfg.ProductionTimeMax},
		{[]string{"sleep_between_min", "sleep-between-min", "sleepbetweenmin"}, &cfg.SleepMin},
		{[]string{"sleep_between_max", "sleep-between-max", "sleepbetweenmax"}, &cfg.SleepMax},
		{[]string{"producer_threads", "producer-threads", "producerthreads"}, &cfg.ProducerThreads},
	}
	for _, f := range ints {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = val
	}

	int64s := []struct {
		keys []string
		dst  *int64
	}{
		{[]string{"size_min", "size-min", "sizemin"}, &cfg.SizeMin},
		{[]string{"size_max", "size-max", "sizemax"}, &cfg.SizeMax},
	}
	for _, f := range int64s {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = val
	}

	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"mime_type", "mime-type", "mimetype"}, &cfg.MimeType},
		{[]string{"seed"}, &cfg.Seed},
		{[]string{"bucket"}, &cfg.Bucket},
		{[]string{"bucket_prefix", "bucket-prefix", "bucketprefix"}, &cfg.BucketPrefix},
		{[]string{"compression"}, &cfg.Compression},
		{[]string{"spool_dir", "spool-dir", "spooldir"}, &cfg.SpoolDir},
		{[]string{"log_level", "log-level", "loglevel"}, &cfg.LogLevel},
		{[]string{"log_format", "log-format", "logformat"}, &cfg.LogFormat},
		{[]string{"metrics_addr", "metrics-addr", "metricsaddr"}, &cfg.MetricsAddr},
	}
	for _, f := range strs {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = val
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.Output = OutputFormat(val)
	}

	bools := []struct {
		keys []string
		dst  *bool
	}{
		{[]string{"log_errors", "log-errors", "logerrors"}, &cfg.LogErrors},
		{[]string{"progress"}, &cfg.Progress},
	}
	for _, f := range bools {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = val
	}

	if raw, ok := lookupSetting(settings, "fail_indexes", "fail-indexes", "failindexes"); ok {
		val, err := asIntSlice(raw)
		if err != nil {
			return fmt.Errorf("fail_indexes: %w", err)
		}
		cfg.FailIndexes = val
	}
	if raw, ok := lookupSetting(settings, "forget_indexes", "forget-indexes", "forgetindexes"); ok {
		val, err := asIntSlice(raw)
		if err != nil {
			return fmt.Errorf("forget_indexes: %w", err)
		}
		cfg.ForgetIndexes = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tc, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tc
	}

	return nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if tc.Endpoint, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if tc.Protocol, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "service_name", "service-name", "servicename"); ok {
		if tc.ServiceName, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "sample-rate", "samplerate"); ok {
		if tc.SampleRate, err = asFloat64(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if tc.Insecure, err = asBool(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}
