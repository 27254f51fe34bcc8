package runner

import (
	"fmt"
	"time"

	"github.com/torosent/streamfire/internal/upload"
)

// Outcome is how an attachment ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeForgotten      Outcome = "forgotten"
	OutcomeStartFailed    Outcome = "start_failed"
	OutcomeFinalizeFailed Outcome = "finalize_failed"
)

// CompletionRecord describes one attachment of a run.
type CompletionRecord struct {
	Index      int            `json:"index" yaml:"index"`
	Outcome    Outcome        `json:"outcome" yaml:"outcome"`
	Size       int64          `json:"size" yaml:"size"`
	Duration   time.Duration  `json:"-" yaml:"-"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`
	FailAt     *int64         `json:"fail_at,omitempty" yaml:"fail_at,omitempty"`
	Written    int64          `json:"written" yaml:"written"`
	Elapsed    time.Duration  `json:"-" yaml:"-"`
	ElapsedMs  int64          `json:"elapsed_ms" yaml:"elapsed_ms"`
	Upload     *upload.Result `json:"upload,omitempty" yaml:"upload,omitempty"`
	Diagnostic string         `json:"diagnostic,omitempty" yaml:"diagnostic,omitempty"`
	Err        error          `json:"-" yaml:"-"`
}

// Report summarizes a run.
type Report struct {
	RunID       string             `json:"run_id" yaml:"run_id"`
	Seed        int64              `json:"seed" yaml:"seed"`
	Attachments int                `json:"attachments" yaml:"attachments"`
	Threads     int                `json:"threads" yaml:"threads"`
	Records     []CompletionRecord `json:"records" yaml:"records"`
	Diagnostics map[string]string  `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Versions    map[string]string  `json:"versions" yaml:"versions"`
	Interrupted bool               `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	Duration    time.Duration      `json:"-" yaml:"-"`
	DurationMs  int64              `json:"duration_ms" yaml:"duration_ms"`
}

// Count returns the number of records with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Outcome == o {
			n++
		}
	}
	return n
}

// Record returns the record of attachment index.
func (r Report) Record(index int) (CompletionRecord, bool) {
	for _, rec := range r.Records {
		if rec.Index == index {
			return rec, true
		}
	}
	return CompletionRecord{}, false
}

// DiagnosticKey is the key a failed attachment's diagnostic is stored under.
func DiagnosticKey(index int) string {
	return fmt.Sprintf("producer-%d-exception", index)
}
