// Package metrics aggregates attachment outcomes for a streamfire run.
//
// The [Collector] receives one [Attachment] record per attachment once its
// producer and upload have settled, plus live byte and activity updates from
// running producers:
//
//	collector := metrics.NewCollector()
//	collector.ProducerStarted()
//	collector.AddBytes(128)
//	collector.RecordAttachment(metrics.Attachment{
//		Index:    0,
//		Outcome:  "completed",
//		Written:  4096,
//		Target:   10 * time.Second,
//		Elapsed:  10*time.Second + 3*time.Millisecond,
//		Produced: true,
//	})
//	stats := collector.Stats(elapsed)
//
// # Completion lag
//
// A producer is scheduled to finish after its drawn production time. The
// difference between the observed elapsed time and that target is the
// completion lag. Lags are kept in an HDR histogram so p50/p90/p95/p99 stay
// accurate however many attachments a run has.
//
// # Prometheus
//
// [NewPrometheus] registers the same measurements on a registry and
// [Collector.WithPrometheus] mirrors every update into it. [Serve] exposes the
// registry over HTTP.
package metrics
