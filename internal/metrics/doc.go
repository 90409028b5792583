// Package metrics aggregates the outcomes of a test suite run.
//
// The [Collector] is safe for concurrent use by the runner's workers. Each
// finished job is recorded as a [Sample]:
//
//	collector := metrics.NewCollector()
//	collector.Record(metrics.Sample{
//		Kind:    "http",
//		Latency: 42 * time.Millisecond,
//		Passed:  false,
//		Code:    "500",
//	})
//	stats := collector.Stats(time.Since(start))
//
// Latency percentiles come from an HDR histogram tracking 1µs to 60s with
// three significant figures. Failed samples are also counted per kind and
// code; [FlattenStatusBuckets] turns those counts into sorted report rows.
package metrics
