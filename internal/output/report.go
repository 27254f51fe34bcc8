// Package output renders run reports and the live progress line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/streamfire/internal/metrics"
	"github.com/torosent/streamfire/internal/runner"
	"github.com/torosent/streamfire/internal/threshold"
	"github.com/torosent/streamfire/internal/version"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Summary is everything a report prints about one run.
type Summary struct {
	Run        runner.Report     `json:"run" yaml:"run"`
	Stats      metrics.Stats     `json:"stats" yaml:"stats"`
	Thresholds *ThresholdSummary `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// ThresholdSummary aggregates threshold results.
type ThresholdSummary struct {
	Total   int                   `json:"total" yaml:"total"`
	Passed  int                   `json:"passed" yaml:"passed"`
	Failed  int                   `json:"failed" yaml:"failed"`
	Results []ThresholdResultJSON `json:"results" yaml:"results"`
}

// ThresholdResultJSON is the serialized form of a threshold.Result.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// NewSummary combines a run report, its stats and threshold results.
func NewSummary(report runner.Report, stats metrics.Stats, results []threshold.Result) Summary {
	s := Summary{Run: report, Stats: stats}
	if len(results) == 0 {
		return s
	}
	ts := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		ts.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			ts.Passed++
		} else {
			ts.Failed++
		}
	}
	s.Thresholds = ts
	return s
}

// Write renders s in format.
func Write(w io.Writer, format string, s Summary) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		PrintReport(w, s)
		return nil
	case FormatJSON:
		return PrintJSONReport(w, s)
	case FormatYAML:
		return PrintYAMLReport(w, s)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s Summary) {
	run, stats := s.Run, s.Stats
	fmt.Fprintln(w, "\n--- Streaming Upload Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", run.RunID)
	fmt.Fprintf(w, "Seed:              %d\n", run.Seed)
	fmt.Fprintf(w, "Attachments:       %d (threads: %d)\n", run.Attachments, run.Threads)
	fmt.Fprintf(w, "Duration:          %s\n", run.Duration)
	fmt.Fprintf(w, "Bytes Written:     %d\n", stats.BytesWritten)
	fmt.Fprintf(w, "Bytes/sec:         %.2f\n", stats.BytesPerSec)
	if run.Interrupted {
		fmt.Fprintln(w, "Interrupted:       yes")
	}

	if rows := metrics.SortedOutcomes(stats.Outcomes); len(rows) > 0 {
		fmt.Fprintln(w, "\nOutcomes:")
		for _, row := range rows {
			fmt.Fprintf(w, "  %-17s%d\n", row.Outcome+":", row.Count)
		}
	}

	fmt.Fprintln(w, "\nCompletion Lag:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLag)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLag)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLag)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Lag)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Lag)
	fmt.Fprintf(w, "  P95:             %s\n", stats.P95Lag)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Lag)

	if len(run.Records) > 0 {
		fmt.Fprintln(w, "\nAttachments:")
		for _, rec := range run.Records {
			writeRecord(w, rec)
		}
	}

	if len(run.Diagnostics) > 0 {
		fmt.Fprintln(w, "\nDiagnostics:")
		keys := make([]string, 0, len(run.Diagnostics))
		for k := range run.Diagnostics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, run.Diagnostics[k])
		}
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		names := make([]string, 0, len(stats.Errors))
		for name := range stats.Errors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, stats.Errors[name])
		}
	}

	if ts := s.Thresholds; ts != nil {
		fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", ts.Passed, ts.Total)
		for _, r := range ts.Results {
			status := "✓"
			if !r.Pass {
				status = "✗"
			}
			fmt.Fprintf(w, "  %s %s (actual %.2f)\n", status, r.Threshold, r.Actual)
		}
	}

	if len(run.Versions) > 0 {
		fmt.Fprintf(w, "\nVersions: %s\n", version.String(run.Versions))
	}
}

func writeRecord(w io.Writer, rec runner.CompletionRecord) {
	fmt.Fprintf(w, "  #%d %s: size=%d written=%d target=%s elapsed=%s",
		rec.Index, rec.Outcome, rec.Size, rec.Written, rec.Duration, rec.Elapsed)
	if rec.FailAt != nil {
		fmt.Fprintf(w, " fail_at=%d", *rec.FailAt)
	}
	if rec.Upload != nil {
		fmt.Fprintf(w, " key=%s", rec.Upload.Key)
	}
	if rec.Diagnostic != "" {
		fmt.Fprintf(w, " (%s)", rec.Diagnostic)
	}
	fmt.Fprintln(w)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, s Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
