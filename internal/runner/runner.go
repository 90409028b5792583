package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/apiprobe/internal/httpclient"
	"github.com/torosent/apiprobe/internal/metrics"
	"github.com/torosent/apiprobe/internal/scenario"
	"github.com/torosent/apiprobe/internal/websocket"
)

// Kind identifies what a job exercises.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindWebSocket Kind = "websocket"
	KindScenario  Kind = "scenario"
)

// Job is one unit of work in a suite run.
type Job struct {
	Kind Kind
	Name string
	Tags []string
	Run  func(ctx context.Context) Outcome
}

// Outcome is the result of one job. Exactly one of HTTP, Session and
// Scenario is set for jobs that ran.
type Outcome struct {
	Kind    Kind
	Name    string
	Passed  bool
	Skipped bool
	Errors  []string
	Elapsed time.Duration
	// Code classifies a failure for the metrics breakdown.
	Code string

	HTTP     *httpclient.CallResult
	Session  *websocket.SessionResult
	Scenario *scenario.Result
}

// Result captures execution summary. Outcomes follow job order.
type Result struct {
	Outcomes []Outcome
	Passed   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// OK reports whether every job that ran passed and none was skipped.
func (r Result) OK() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// Runner executes jobs with bounded concurrency and rate limiting.
type Runner struct {
	opt Options
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Run executes jobs and waits for all of them. Jobs that never started,
// because the context ended or fail-fast stopped the run, are reported as
// skipped.
func (r *Runner) Run(ctx context.Context, jobs []Job) Result {
	start := time.Now()
	outcomes := make([]Outcome, len(jobs))
	ran := make([]bool, len(jobs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opt.Timeout > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, r.opt.Timeout)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	limiter := r.opt.LimiterFactory(r.opt.RatePerSecond)
	next := make(chan int, r.opt.Concurrency)

	// Scheduler: serializes rate limiting to avoid burst overshoot across workers.
	go func() {
		defer close(next)
		for i := range jobs {
			if ctx.Err() != nil {
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case next <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(r.opt.Concurrency)
	for w := 0; w < r.opt.Concurrency; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				if ctx.Err() != nil {
					continue
				}
				out := r.runJob(ctx, jobs[i])
				outcomes[i] = out
				ran[i] = true
				if !out.Passed && r.opt.FailFast {
					r.opt.Logger.Info("stopping after first failure", zap.String("job", out.Name))
					cancel()
				}
			}
		}()
	}
	wg.Wait()

	res := Result{Outcomes: outcomes, Duration: time.Since(start)}
	for i := range outcomes {
		switch {
		case !ran[i]:
			outcomes[i] = Outcome{
				Kind:    jobs[i].Kind,
				Name:    jobs[i].Name,
				Skipped: true,
			}
			res.Skipped++
		case outcomes[i].Passed:
			res.Passed++
		default:
			res.Failed++
		}
	}
	return res
}

func (r *Runner) runJob(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := job.Run(ctx)
	if out.Kind == "" {
		out.Kind = job.Kind
	}
	if out.Name == "" {
		out.Name = job.Name
	}
	if out.Elapsed == 0 {
		out.Elapsed = time.Since(start)
	}

	if r.opt.Collector != nil {
		r.opt.Collector.Record(metrics.Sample{
			Kind:    string(out.Kind),
			Latency: out.Elapsed,
			Passed:  out.Passed,
			Code:    out.Code,
		})
	}

	if out.Passed {
		r.opt.Logger.Debug("job passed",
			zap.String("kind", string(out.Kind)),
			zap.String("job", out.Name),
			zap.Duration("elapsed", out.Elapsed),
		)
	} else {
		r.opt.Logger.Warn("job failed",
			zap.String("kind", string(out.Kind)),
			zap.String("job", out.Name),
			zap.Strings("errors", out.Errors),
		)
	}
	return out
}
