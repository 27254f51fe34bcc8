package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Attachment is the settled result of one attachment.
type Attachment struct {
	Index   int
	Outcome string
	Written int64
	// Target is the drawn production time.
	Target  time.Duration
	Elapsed time.Duration
	// Produced reports whether the producer reached Completed. Only those
	// contribute a completion lag.
	Produced bool
	Err      error
}

// Lag returns how far past its target the producer finished.
func (a Attachment) Lag() time.Duration {
	if lag := a.Elapsed - a.Target; lag > 0 {
		return lag
	}
	return 0
}

// Collector records attachment metrics in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	outcomes     map[string]int64
	minLag       time.Duration
	maxLag       time.Duration
	sumLag       time.Duration
	lagCount     int64
	errorsByType map[string]int64

	bytes  atomic.Int64
	active atomic.Int64

	prom *Prometheus
}

// Stats represents aggregated metrics.
type Stats struct {
	Total        int64            `json:"total" yaml:"total"`
	Outcomes     map[string]int64 `json:"outcomes" yaml:"outcomes"`
	BytesWritten int64            `json:"bytes_written" yaml:"bytes_written"`
	BytesPerSec  float64          `json:"bytes_per_sec" yaml:"bytes_per_sec"`
	MinLag       time.Duration    `json:"-" yaml:"-"`
	MaxLag       time.Duration    `json:"-" yaml:"-"`
	MeanLag      time.Duration    `json:"-" yaml:"-"`
	P50Lag       time.Duration    `json:"-" yaml:"-"`
	P90Lag       time.Duration    `json:"-" yaml:"-"`
	P95Lag       time.Duration    `json:"-" yaml:"-"`
	P99Lag       time.Duration    `json:"-" yaml:"-"`
	Duration     time.Duration    `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinLagMs   float64        `json:"min_lag_ms" yaml:"min_lag_ms"`
	MaxLagMs   float64        `json:"max_lag_ms" yaml:"max_lag_ms"`
	MeanLagMs  float64        `json:"mean_lag_ms" yaml:"mean_lag_ms"`
	P50LagMs   float64        `json:"p50_lag_ms" yaml:"p50_lag_ms"`
	P90LagMs   float64        `json:"p90_lag_ms" yaml:"p90_lag_ms"`
	P95LagMs   float64        `json:"p95_lag_ms" yaml:"p95_lag_ms"`
	P99LagMs   float64        `json:"p99_lag_ms" yaml:"p99_lag_ms"`
	DurationMs float64        `json:"duration_ms" yaml:"duration_ms"`
	Errors     map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Count returns the number of attachments that ended with outcome.
func (s Stats) Count(outcome string) int64 {
	return s.Outcomes[outcome]
}

func NewCollector() *Collector {
	// Track lags up to 60s with 3 significant figures. An on-time producer
	// records 0, which shares the first bucket and reads back as 0.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:         h,
		outcomes:     make(map[string]int64),
		errorsByType: make(map[string]int64),
	}
}

// WithPrometheus mirrors every update into p.
func (c *Collector) WithPrometheus(p *Prometheus) *Collector {
	c.prom = p
	return c
}

// AddBytes adds bytes written by a running producer.
func (c *Collector) AddBytes(n int64) {
	c.bytes.Add(n)
	c.prom.addBytes(n)
}

// ProducerStarted marks a producer as running.
func (c *Collector) ProducerStarted() {
	c.active.Add(1)
	c.prom.setActive(c.active.Load())
}

// ProducerFinished marks a producer as settled.
func (c *Collector) ProducerFinished() {
	c.active.Add(-1)
	c.prom.setActive(c.active.Load())
}

// Active returns the number of running producers.
func (c *Collector) Active() int64 {
	return c.active.Load()
}

// BytesWritten returns the bytes written so far.
func (c *Collector) BytesWritten() int64 {
	return c.bytes.Load()
}

// Settled returns how many attachments have been recorded.
func (c *Collector) Settled() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.outcomes {
		n += v
	}
	return n
}

// RecordAttachment records a settled attachment.
func (c *Collector) RecordAttachment(a Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[a.Outcome]++
	c.prom.observeOutcome(a.Outcome)

	if a.Produced {
		lag := a.Lag()
		us := lag.Microseconds()
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
		c.sumLag += lag
		if c.lagCount == 0 || lag < c.minLag {
			c.minLag = lag
		}
		if lag > c.maxLag {
			c.maxLag = lag
		}
		c.lagCount++
		c.prom.observeLag(lag)
	}

	if a.Err != nil {
		c.errorsByType[ErrorKind(a.Err)]++
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Outcomes:     make(map[string]int64, len(c.outcomes)),
		BytesWritten: c.bytes.Load(),
		MinLag:       c.minLag,
		MaxLag:       c.maxLag,
	}
	for k, v := range c.outcomes {
		stats.Outcomes[k] = v
		stats.Total += v
	}

	if c.lagCount > 0 {
		stats.MeanLag = time.Duration(int64(c.sumLag) / c.lagCount)
	}
	if c.hist.TotalCount() > 0 {
		stats.P50Lag = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Lag = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P95Lag = time.Duration(c.hist.ValueAtQuantile(95)) * time.Microsecond
		stats.P99Lag = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLagMs = toMs(stats.MinLag)
	stats.MaxLagMs = toMs(stats.MaxLag)
	stats.MeanLagMs = toMs(stats.MeanLag)
	stats.P50LagMs = toMs(stats.P50Lag)
	stats.P90LagMs = toMs(stats.P90Lag)
	stats.P95LagMs = toMs(stats.P95Lag)
	stats.P99LagMs = toMs(stats.P99Lag)

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 {
		stats.BytesPerSec = float64(stats.BytesWritten) / elapsed.Seconds()
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}
	return stats
}

// OutcomeCount is one row of an outcome breakdown.
type OutcomeCount struct {
	Outcome string
	Count   int64
}

// SortedOutcomes returns outcomes by descending count, then by name.
func SortedOutcomes(outcomes map[string]int64) []OutcomeCount {
	if len(outcomes) == 0 {
		return nil
	}
	rows := make([]OutcomeCount, 0, len(outcomes))
	for k, v := range outcomes {
		rows = append(rows, OutcomeCount{Outcome: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Outcome < rows[j].Outcome
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
