// Package scenario runs chains of HTTP endpoint calls that pass captured
// values to each other through a variable store.
//
// A scenario runs its setup steps, then its main steps, then its teardown
// steps. A failed setup step skips the main steps, a failed main step skips
// the remaining main steps, and teardown always runs in full.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/apiprobe/internal/config"
	"github.com/torosent/apiprobe/internal/extractor"
	"github.com/torosent/apiprobe/internal/httpclient"
	"github.com/torosent/apiprobe/internal/match"
	"github.com/torosent/apiprobe/internal/tracing"
	"github.com/torosent/apiprobe/internal/variables"
)

// Phase identifies the part of a scenario a step belongs to.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseMain     Phase = "steps"
	PhaseTeardown Phase = "teardown"
)

func (p Phase) prefix() string {
	switch p {
	case PhaseSetup:
		return "[Setup] "
	case PhaseTeardown:
		return "[Teardown] "
	}
	return ""
}

// Caller executes one endpoint call. *httpclient.Executor implements it.
type Caller interface {
	Execute(ctx context.Context, spec httpclient.CallSpec) (*httpclient.CallResult, error)
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Phase    Phase
	Name     string
	Endpoint string
	// Call is nil when the step failed before a request was made.
	Call   *httpclient.CallResult
	Passed bool
	Errors []string
}

// Result is the outcome of one scenario run.
type Result struct {
	Name      string
	Steps     []StepResult
	Passed    bool
	Errors    []string
	Variables map[string]string
	Elapsed   time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer wraps every scenario run in a span.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = t
	}
}

// Runner executes scenarios of one definition.
type Runner struct {
	def    *config.Definition
	caller Caller
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRunner creates a runner resolving endpoint references against def.
func NewRunner(def *config.Definition, caller Caller, opts ...Option) *Runner {
	r := &Runner{def: def, caller: caller, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes sc with a fresh variable store. Step failures are reported
// in the result; the returned error is reserved for a cancelled context.
func (r *Runner) Run(ctx context.Context, sc config.Scenario) (*Result, error) {
	start := time.Now()
	result := &Result{Name: sc.Name}
	store := variables.NewStore()

	if r.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, r.tracer, "scenario", sc.Name)
		defer func() {
			var err error
			if !result.Passed {
				err = errors.New(strings.Join(result.Errors, "; "))
			}
			tracing.EndSpan(span, err, attribute.Int("apiprobe.steps", len(result.Steps)))
		}()
	}

	logger := r.logger.With(zap.String("scenario", sc.Name))

	ok := r.runPhase(ctx, PhaseSetup, sc.Setup, store, result, logger, true)
	if ok {
		r.runPhase(ctx, PhaseMain, sc.Steps, store, result, logger, true)
	} else if len(sc.Steps) > 0 {
		logger.Warn("setup failed, skipping scenario steps", zap.Int("skipped", len(sc.Steps)))
	}
	// Teardown ignores cancellation of ctx so created resources are removed.
	r.runPhase(context.WithoutCancel(ctx), PhaseTeardown, sc.Teardown, store, result, logger, false)

	result.Passed = true
	for _, st := range result.Steps {
		if !st.Passed {
			result.Passed = false
			for _, e := range st.Errors {
				result.Errors = append(result.Errors, fmt.Sprintf("%s%s: %s", st.Phase.prefix(), st.Name, e))
			}
		}
	}
	result.Variables = store.GetAll()
	result.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// runPhase executes steps in order and reports whether all of them passed.
// With stopOnFailure the first failing step ends the phase.
func (r *Runner) runPhase(ctx context.Context, phase Phase, steps []config.ScenarioStep, store variables.Store, result *Result, logger *zap.Logger, stopOnFailure bool) bool {
	passed := true
	for _, st := range steps {
		if ctx.Err() != nil {
			return false
		}
		sr := r.runStep(ctx, phase, st, store, logger)
		result.Steps = append(result.Steps, sr)
		if !sr.Passed {
			passed = false
			if stopOnFailure {
				return false
			}
		}
	}
	return passed
}

func (r *Runner) runStep(ctx context.Context, phase Phase, st config.ScenarioStep, store variables.Store, logger *zap.Logger) StepResult {
	sr := StepResult{Phase: phase, Name: st.Name, Endpoint: st.EndpointRef}

	ep, found := r.def.HTTPEndpoint(st.EndpointRef)
	if !found {
		sr.Errors = []string{fmt.Sprintf("endpoint_ref %q not found", st.EndpointRef)}
		return sr
	}

	spec := BuildSpec(ep, st, store)
	spec.Name = phase.prefix() + st.Name

	call, err := r.caller.Execute(ctx, spec)
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Call = call
	sr.Passed = call.Passed
	sr.Errors = call.Errors

	if call.StatusCode != 0 {
		for name, value := range extractor.ExtractAll(call.RawBody, extractor.ForStatus(st.Extract, call.StatusCode), logger) {
			store.Set(name, value)
		}
	}
	if !call.Passed {
		return sr
	}

	for name, path := range st.Save {
		value, ok := extractor.ExtractPath(call.Body, path)
		if !ok {
			logger.Warn("save path not found in response",
				zap.String("step", st.Name),
				zap.String("variable", name),
				zap.String("path", path),
			)
			continue
		}
		store.Set(name, match.Stringify(value))
	}
	logger.Debug("scenario step passed",
		zap.String("phase", string(phase)),
		zap.String("step", st.Name),
		zap.Strings("variables", store.Keys()),
	)
	return sr
}

// BuildSpec prepares the call for one step: overrides are applied to the
// endpoint (body and params replace, headers merge) and placeholders are
// resolved from store. Scenario steps check status and timing only; body
// and header expectations are dropped.
func BuildSpec(ep config.HTTPEndpoint, st config.ScenarioStep, store variables.Store) httpclient.CallSpec {
	spec := ep.CallSpec()
	spec.ExpectedBody = nil
	spec.ExpectedHeaders = nil

	body := ep.Body
	if st.OverrideBody != nil {
		body = st.OverrideBody
	}
	params := ep.QueryParams
	if st.OverrideParams != nil {
		params = st.OverrideParams
	}

	headers := make(map[string]string, len(ep.Headers)+len(st.OverrideHeaders))
	for k, v := range ep.Headers {
		headers[k] = v
	}
	for k, v := range st.OverrideHeaders {
		headers[k] = v
	}

	spec.Path = variables.Apply(ep.Path, store)
	spec.Body = variables.ApplyValue(body, store)
	spec.Headers = variables.ApplyMap(headers, store)
	if params != nil {
		spec.Query, _ = variables.ApplyValue(params, store).(map[string]any)
	} else {
		spec.Query = nil
	}
	return spec
}
