package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/streamfire/internal/content"
	"github.com/torosent/streamfire/internal/metrics"
	"github.com/torosent/streamfire/internal/producer"
	"github.com/torosent/streamfire/internal/upload"
)

type fakeSession struct {
	id   string
	path string
	meta upload.Metadata
}

func (s *fakeSession) ID() string               { return s.id }
func (s *fakeSession) Metadata() upload.Metadata { return s.meta }

// fakeUploader records every call per attachment index and captures file
// contents at completion.
type fakeUploader struct {
	mu          sync.Mutex
	starts      map[int]int
	completes   map[int]int
	cancels     map[int]int
	causes      map[int]error
	contents    map[int][]byte
	metas       map[int]upload.Metadata
	startErr    map[int]error
	completeErr map[int]error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		starts:      map[int]int{},
		completes:   map[int]int{},
		cancels:     map[int]int{},
		causes:      map[int]error{},
		contents:    map[int][]byte{},
		metas:       map[int]upload.Metadata{},
		startErr:    map[int]error{},
		completeErr: map[int]error{},
	}
}

func (f *fakeUploader) Start(_ context.Context, path string, meta upload.Metadata) (upload.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[meta.Attachment]++
	f.metas[meta.Attachment] = meta
	if err := f.startErr[meta.Attachment]; err != nil {
		return nil, err
	}
	return &fakeSession{id: fmt.Sprintf("s-%d", meta.Attachment), path: path, meta: meta}, nil
}

func (f *fakeUploader) Complete(_ context.Context, s upload.Session) (upload.Result, error) {
	fs := s.(*fakeSession)
	data, readErr := os.ReadFile(fs.path)
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := fs.meta.Attachment
	f.completes[idx]++
	if err := f.completeErr[idx]; err != nil {
		return upload.Result{}, err
	}
	if readErr != nil {
		return upload.Result{}, readErr
	}
	f.contents[idx] = data
	return upload.Result{SessionID: fs.id, Key: fs.meta.Filename, Size: int64(len(data))}, nil
}

func (f *fakeUploader) Cancel(_ context.Context, s upload.Session, cause error) error {
	fs := s.(*fakeSession)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels[fs.meta.Attachment]++
	f.causes[fs.meta.Attachment] = cause
	return nil
}

func (f *fakeUploader) Close() error { return nil }

func (f *fakeUploader) counts(index int) (starts, completes, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[index], f.completes[index], f.cancels[index]
}

func noSleep(context.Context, time.Duration) error { return nil }

// fastOptions returns options whose producers finish after one second.
func fastOptions(t *testing.T, up *fakeUploader) Options {
	t.Helper()
	seed := int64(31337)
	return Options{
		Attachments:     2,
		SizeMin:         100,
		SizeMax:         2000,
		DurationMin:     1,
		DurationMax:     1,
		SleepMin:        1,
		SleepMax:        3,
		Seed:            &seed,
		ProducerThreads: 2,
		SpoolDir:        t.TempDir(),
		Uploader:        up,
		Sleep:           noSleep,
	}
}

func assertSpoolEmpty(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("spool root not cleaned up: %v", entries)
	}
}

func TestRunCompletesAndForgets(t *testing.T) {
	up := newFakeUploader()
	opt := fastOptions(t, up)
	opt.ForgetIndexes = []int{1}

	report, err := New(opt).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s, c, x := up.counts(0); s != 1 || c != 1 || x != 0 {
		t.Errorf("index 0 calls start=%d complete=%d cancel=%d, want 1/1/0", s, c, x)
	}
	if s, c, x := up.counts(1); s != 1 || c != 0 || x != 0 {
		t.Errorf("index 1 calls start=%d complete=%d cancel=%d, want 1/0/0", s, c, x)
	}

	rec0, _ := report.Record(0)
	rec1, _ := report.Record(1)
	if rec0.Outcome != OutcomeCompleted || rec0.Upload == nil || rec0.Upload.Size != rec0.Size {
		t.Errorf("record 0 = %+v", rec0)
	}
	if rec1.Outcome != OutcomeForgotten || rec1.Upload != nil {
		t.Errorf("record 1 = %+v", rec1)
	}
	if rec0.Written != rec0.Size || rec1.Written != rec1.Size {
		t.Errorf("written %d/%d and %d/%d", rec0.Written, rec0.Size, rec1.Written, rec1.Size)
	}
	if rec0.Elapsed < time.Second {
		t.Errorf("producer finished before its production time: %s", rec0.Elapsed)
	}
	if len(report.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics %v", report.Diagnostics)
	}
	if report.Seed != 31337 || report.RunID == "" || report.Versions["streamfire_version"] == "" {
		t.Errorf("report header = %+v", report)
	}
	assertSpoolEmpty(t, opt.SpoolDir)
}

func TestRunInjectedFailureIsIsolated(t *testing.T) {
	up := newFakeUploader()
	opt := fastOptions(t, up)
	opt.Attachments = 3
	opt.FailIndexes = []int{1}

	report, err := New(opt).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rec, _ := report.Record(1)
	if rec.Outcome != OutcomeFailed || rec.FailAt == nil {
		t.Fatalf("record 1 = %+v", rec)
	}
	if rec.Written < *rec.FailAt || rec.Written >= *rec.FailAt+producer.ChunkSize || rec.Written >= rec.Size {
		t.Errorf("written %d for fail offset %d size %d", rec.Written, *rec.FailAt, rec.Size)
	}
	if _, c, x := up.counts(1); c != 0 || x != 1 {
		t.Errorf("index 1 complete=%d cancel=%d, want 0/1", c, x)
	}
	if !errors.Is(up.causes[1], producer.ErrFailureRequested) {
		t.Errorf("cancel cause = %v", up.causes[1])
	}
	want := fmt.Sprintf("failure requested at byte %d", rec.Written)
	if got := report.Diagnostics[DiagnosticKey(1)]; got != want {
		t.Errorf("diagnostic = %q, want %q", got, want)
	}
	for _, i := range []int{0, 2} {
		r, _ := report.Record(i)
		if r.Outcome != OutcomeCompleted {
			t.Errorf("record %d outcome = %s, want completed", i, r.Outcome)
		}
	}
	assertSpoolEmpty(t, opt.SpoolDir)
}

func TestRunStartFailureSkipsAttachment(t *testing.T) {
	up := newFakeUploader()
	up.startErr[0] = errors.New("upload service unavailable")
	opt := fastOptions(t, up)

	report, err := New(opt).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rec0, _ := report.Record(0)
	if rec0.Outcome != OutcomeStartFailed || rec0.Written != 0 {
		t.Errorf("record 0 = %+v", rec0)
	}
	if rec0.Diagnostic != "upload service unavailable" {
		t.Errorf("diagnostic = %q", rec0.Diagnostic)
	}
	if _, c, x := up.counts(0); c != 0 || x != 0 {
		t.Errorf("skipped attachment saw complete=%d cancel=%d", c, x)
	}
	rec1, _ := report.Record(1)
	if rec1.Outcome != OutcomeCompleted {
		t.Errorf("record 1 outcome = %s", rec1.Outcome)
	}
	assertSpoolEmpty(t, opt.SpoolDir)
}

func TestRunCompleteFailureIsRecorded(t *testing.T) {
	up := newFakeUploader()
	up.completeErr[0] = errors.New("object store rejected upload")
	opt := fastOptions(t, up)
	opt.Attachments = 1
	collector := metrics.NewCollector()
	opt.Collector = collector

	report, err := New(opt).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rec, _ := report.Record(0)
	if rec.Outcome != OutcomeFinalizeFailed {
		t.Fatalf("outcome = %s", rec.Outcome)
	}
	if got := report.Diagnostics[DiagnosticKey(0)]; got != "object store rejected upload" {
		t.Errorf("diagnostic = %q", got)
	}
	if _, c, x := up.counts(0); c != 1 || x != 1 {
		t.Errorf("complete=%d cancel=%d, want 1/1", c, x)
	}
	stats := collector.Stats(report.Duration)
	if stats.Count(string(OutcomeFinalizeFailed)) != 1 || stats.BytesWritten != rec.Size {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunFixedSizeAndDeterministicContent(t *testing.T) {
	run := func() map[int][]byte {
		up := newFakeUploader()
		opt := fastOptions(t, up)
		opt.Attachments = 3
		opt.SizeMin, opt.SizeMax = 100, 100
		opt.ProducerThreads = 1
		report, err := New(opt).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		for _, rec := range report.Records {
			if rec.Size != 100 {
				t.Fatalf("record %d size = %d, want 100", rec.Index, rec.Size)
			}
		}
		return up.contents
	}

	first, second := run(), run()
	for i := 0; i < 3; i++ {
		if len(first[i]) != 100 {
			t.Fatalf("attachment %d has %d bytes", i, len(first[i]))
		}
		if string(first[i]) != string(second[i]) {
			t.Fatalf("attachment %d differs between runs", i)
		}
		for _, b := range first[i] {
			if b != '\n' && !strings.ContainsRune(content.Alphabet, rune(b)) {
				t.Fatalf("attachment %d has byte %q outside the alphabet", i, b)
			}
		}
	}
	if string(first[0]) == string(first[1]) {
		t.Fatal("attachments should use distinct content seeds")
	}
}

func TestRunMimeTypeMetadata(t *testing.T) {
	up := newFakeUploader()
	opt := fastOptions(t, up)
	opt.Attachments = 1
	opt.MimeType = "application/x-ndjson"
	if _, err := New(opt).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	meta := up.metas[0]
	if meta.MimeType != "application/x-ndjson" {
		t.Errorf("mime type = %q", meta.MimeType)
	}
	if !strings.HasPrefix(meta.Filename, "stream-0-") || filepath.Ext(meta.Filename) != ".txt" {
		t.Errorf("filename = %q", meta.Filename)
	}

	up = newFakeUploader()
	opt = fastOptions(t, up)
	opt.Attachments = 1
	if _, err := New(opt).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if up.metas[0].MimeType != "" {
		t.Errorf("default mime type should be left to the uploader, got %q", up.metas[0].MimeType)
	}
}

func TestRunInterruptedClosesProducers(t *testing.T) {
	up := newFakeUploader()
	opt := fastOptions(t, up)
	opt.Attachments = 3
	opt.DurationMin, opt.DurationMax = 30, 30

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opt.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	start := time.Now()
	report, err := New(opt).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("interrupted run waited for its producers")
	}
	if !report.Interrupted || len(report.Records) != 1 {
		t.Fatalf("report = %+v", report)
	}
	rec := report.Records[0]
	if rec.Outcome != OutcomeFailed || !errors.Is(rec.Err, producer.ErrClosed) {
		t.Fatalf("record = %+v", rec)
	}
	if _, c, x := up.counts(0); c != 0 || x != 1 {
		t.Errorf("complete=%d cancel=%d, want 0/1", c, x)
	}
	assertSpoolEmpty(t, opt.SpoolDir)
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	up := newFakeUploader()
	opt := fastOptions(t, up)
	opt.SizeMin, opt.SizeMax = 10, 1
	_, err := New(opt).Run(context.Background())
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("Run() error = %v, want invalid options", err)
	}
	if s, _, _ := up.counts(0); s != 0 {
		t.Fatal("no upload may start on invalid options")
	}
}
