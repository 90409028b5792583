package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/apiprobe/internal/config"
	"github.com/torosent/apiprobe/internal/httpclient"
	"github.com/torosent/apiprobe/internal/metrics"
	"github.com/torosent/apiprobe/internal/output"
	"github.com/torosent/apiprobe/internal/runner"
	"github.com/torosent/apiprobe/internal/scenario"
	"github.com/torosent/apiprobe/internal/testdata"
	"github.com/torosent/apiprobe/internal/tracing"
	"github.com/torosent/apiprobe/internal/websocket"
)

// runSuites loads every definition, runs it and writes the report.
func runSuites(ctx context.Context, s *config.Settings, stdout, stderr io.Writer) error {
	logger, err := config.NewLogger(s.LogLevel, s.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	provider, err := tracing.Init(ctx, s.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()
	var tracer trace.Tracer
	if s.Tracing.Enabled() {
		tracer = provider.Tracer()
	}

	defs, err := loadDefinitions(s.Definitions)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	if f, ok := stderr.(*os.File); ok && !s.JSONOutput && isatty.IsTerminal(f.Fd()) {
		progress := output.NewProgressReporter(collector, progressInterval, stderr)
		progress.Start()
		defer progress.Stop()
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	env := suiteEnv{
		settings:  s,
		logger:    logger,
		tracer:    tracer,
		propagate: provider.ShouldPropagate(),
		collector: collector,
		data:      testdata.NewLoader(s.DataDir),
	}
	var runs []output.SuiteRun
	for _, def := range defs {
		if ctx.Err() != nil {
			break
		}
		run := env.run(ctx, def)
		runs = append(runs, run)
		if s.FailFast && run.Result.Failed > 0 {
			logger.Info("fail-fast: skipping remaining definitions", zap.String("definition", def.Name))
			break
		}
	}

	report := output.NewReport(start, collector.Stats(time.Since(start)), runs)
	if s.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, report)
	}
	if s.HTMLOutput != "" {
		if err := writeHTMLReport(s.HTMLOutput, report); err != nil {
			return err
		}
	}

	if !report.OK() {
		return &failedJobsError{failed: report.Failed, skipped: report.Skipped}
	}
	return nil
}

func loadDefinitions(paths []string) ([]*config.Definition, error) {
	defs, err := config.LoadDefinitions(paths)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no definition files found in %v", paths)
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Source, err)
		}
	}
	return defs, nil
}

// suiteEnv carries what every definition run shares.
type suiteEnv struct {
	settings  *config.Settings
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
	collector *metrics.Collector
	data      *testdata.Loader
}

func (e suiteEnv) run(ctx context.Context, def *config.Definition) output.SuiteRun {
	logger := e.logger.With(zap.String("definition", def.Name))
	run := output.SuiteRun{Definition: def.Name, Source: def.Source}

	httpOpts := []httpclient.Option{httpclient.WithLogger(logger)}
	wsOpts := []websocket.Option{websocket.WithLogger(logger)}
	scOpts := []scenario.Option{scenario.WithLogger(logger)}
	if e.tracer != nil {
		httpOpts = append(httpOpts, httpclient.WithTracer(e.tracer, e.propagate))
		wsOpts = append(wsOpts, websocket.WithTracer(e.tracer))
		scOpts = append(scOpts, scenario.WithTracer(e.tracer))
	}

	httpExec, err := httpclient.NewExecutor(ctx, def.BaseURL, def.DefaultHeaders, def.AuthState(), httpOpts...)
	if err != nil {
		run.Result = e.setupFailure(def.Name+" authentication", err)
		return run
	}
	defer httpExec.Close()

	jobs, err := runner.Suite{
		Definition: def,
		HTTP:       httpExec,
		WebSocket:  websocket.NewExecutor(wsOpts...),
		Scenarios:  scenario.NewRunner(def, httpExec, scOpts...),
		Data:       e.data,
		Tags:       e.settings.Tags,
		SkipTags:   e.settings.SkipTags,
	}.Jobs()
	if err != nil {
		run.Result = e.setupFailure(def.Name+" test data", err)
		return run
	}
	logger.Info("running definition", zap.Int("jobs", len(jobs)), zap.String("base_url", def.BaseURL))

	run.Result = runner.New(runner.Options{
		Concurrency:   e.settings.Concurrency,
		RatePerSecond: e.settings.Rate,
		FailFast:      e.settings.FailFast,
		Collector:     e.collector,
		Logger:        logger,
	}).Run(ctx, jobs)
	return run
}

// setupFailure reports a definition that could not start as one failed job.
func (e suiteEnv) setupFailure(name string, err error) runner.Result {
	e.logger.Error("definition setup failed", zap.String("job", name), zap.Error(err))
	e.collector.Record(metrics.Sample{Kind: string(runner.KindHTTP), Code: "setup"})
	return runner.Result{
		Outcomes: []runner.Outcome{{
			Kind:   runner.KindHTTP,
			Name:   name,
			Errors: []string{err.Error()},
			Code:   "setup",
		}},
		Failed: 1,
	}
}

func writeHTMLReport(path string, report output.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("html report: %w", err)
	}
	if err := output.GenerateHTMLReport(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
