// Package runner executes a test suite built from API definitions.
//
// A [Suite] turns one definition into [Job] values: one per HTTP endpoint
// (or one per test data record for data-driven endpoints), one per
// WebSocket endpoint and one per scenario, filtered by tags. A [Runner]
// executes the jobs with a fixed number of workers:
//
//	jobs, err := runner.Suite{
//		Definition: def,
//		HTTP:       httpExecutor,
//		WebSocket:  wsExecutor,
//		Scenarios:  scenario.NewRunner(def, httpExecutor),
//		Tags:       []string{"smoke"},
//	}.Jobs()
//
//	r := runner.New(runner.Options{
//		Concurrency:   4,
//		RatePerSecond: 10,
//		FailFast:      true,
//		Collector:     collector,
//	})
//	result := r.Run(ctx, jobs)
//
// # Scheduling
//
// A single scheduler goroutine hands out job indexes, waiting on a
// golang.org/x/time/rate limiter when RatePerSecond is set. Outcomes are
// stored by index so [Result.Outcomes] follows the job order regardless of
// completion order.
//
// # Stopping early
//
// With FailFast the first failed job cancels the run context. Jobs already
// executing finish; jobs not yet started are reported with Skipped set. The
// same applies when Timeout expires or the caller cancels ctx.
package runner
