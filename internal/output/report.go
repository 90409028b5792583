// Package output renders suite results as text, JSON or HTML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/apiprobe/internal/metrics"
	"github.com/torosent/apiprobe/internal/runner"
)

// Job statuses used in reports.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// SuiteRun is the runner result for one definition.
type SuiteRun struct {
	Definition string
	Source     string
	Result     runner.Result
}

// Report is the complete outcome of one invocation.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Stats     metrics.Stats `json:"stats"`
	Suites    []SuiteReport `json:"suites"`
}

// SuiteReport lists the jobs of one definition.
type SuiteReport struct {
	Definition string      `json:"definition"`
	Source     string      `json:"source,omitempty"`
	Jobs       []JobReport `json:"jobs"`
}

// JobReport is one job in a report.
type JobReport struct {
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	ElapsedMs  float64           `json:"elapsed_ms"`
	Errors     []string          `json:"errors,omitempty"`
	URL        string            `json:"url,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Retries    int               `json:"retries,omitempty"`
	Steps      []StepReport      `json:"steps,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// StepReport is one scenario step or WebSocket action.
type StepReport struct {
	Name      string   `json:"name"`
	Passed    bool     `json:"passed"`
	ElapsedMs float64  `json:"elapsed_ms,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// NewReport assembles a report. The run ID is a ULID carrying startedAt.
func NewReport(startedAt time.Time, stats metrics.Stats, runs []SuiteRun) Report {
	r := Report{
		RunID:     ulid.MustNew(ulid.Timestamp(startedAt), ulid.DefaultEntropy()).String(),
		StartedAt: startedAt.UTC(),
		Stats:     stats,
		Suites:    make([]SuiteReport, 0, len(runs)),
	}
	for _, run := range runs {
		suite := SuiteReport{Definition: run.Definition, Source: run.Source, Jobs: make([]JobReport, 0, len(run.Result.Outcomes))}
		for _, out := range run.Result.Outcomes {
			job := jobReport(out)
			switch job.Status {
			case StatusPassed:
				r.Passed++
			case StatusFailed:
				r.Failed++
			default:
				r.Skipped++
			}
			suite.Jobs = append(suite.Jobs, job)
		}
		r.Suites = append(r.Suites, suite)
	}
	return r
}

// OK reports whether every job passed.
func (r Report) OK() bool {
	return r.Failed == 0 && r.Skipped == 0
}

func jobReport(out runner.Outcome) JobReport {
	job := JobReport{
		Kind:      string(out.Kind),
		Name:      out.Name,
		ElapsedMs: millis(out.Elapsed),
		Errors:    out.Errors,
	}
	switch {
	case out.Skipped:
		job.Status = StatusSkipped
	case out.Passed:
		job.Status = StatusPassed
	default:
		job.Status = StatusFailed
	}

	switch {
	case out.HTTP != nil:
		job.URL = out.HTTP.Method + " " + out.HTTP.URL
		job.StatusCode = out.HTTP.StatusCode
		job.Retries = out.HTTP.Retries
	case out.Session != nil:
		job.URL = out.Session.URL
		for _, st := range out.Session.Steps {
			step := StepReport{Name: st.Action, Passed: st.Passed}
			if st.Error != "" {
				step.Errors = []string{st.Error}
			}
			job.Steps = append(job.Steps, step)
		}
	case out.Scenario != nil:
		job.Variables = out.Scenario.Variables
		for _, st := range out.Scenario.Steps {
			step := StepReport{Name: st.Name, Passed: st.Passed, Errors: st.Errors}
			if st.Call != nil {
				step.Name = st.Call.EndpointName
				step.ElapsedMs = st.Call.ElapsedMs
			}
			job.Steps = append(job.Steps, step)
		}
	}
	return job
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- API Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	fmt.Fprintf(w, "Total Jobs:        %d\n", r.Passed+r.Failed+r.Skipped)
	fmt.Fprintf(w, "Passed:            %d\n", r.Passed)
	fmt.Fprintf(w, "Failed:            %d\n", r.Failed)
	if r.Skipped > 0 {
		fmt.Fprintf(w, "Skipped:           %d\n", r.Skipped)
	}
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if len(stats.Kinds) > 0 {
		fmt.Fprintln(w, "\nBy Kind:")
		for _, kind := range stats.KindNames() {
			k := stats.Kinds[kind]
			fmt.Fprintf(w, "  - %s: total=%d, passed=%d, failed=%d\n", kind, k.Total, k.Passed, k.Failed)
		}
	}
	if len(stats.FailureBuckets) > 0 {
		fmt.Fprintln(w, "\nFailure Buckets:")
		writeStatusBuckets(w, stats.FailureBuckets, "  ")
	}

	for _, suite := range r.Suites {
		fmt.Fprintf(w, "\n%s:\n", suite.Definition)
		for _, job := range suite.Jobs {
			fmt.Fprintf(w, "  %-4s %-9s %s (%.1fms)\n", statusLabel(job.Status), job.Kind, job.Name, job.ElapsedMs)
			for _, e := range job.Errors {
				fmt.Fprintf(w, "         - %s\n", e)
			}
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeStatusBuckets(w io.Writer, buckets map[string]map[string]int, indent string) {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(
			w,
			"%s%s %s: %d\n",
			indent,
			strings.ToUpper(row.Kind),
			row.Code,
			row.Count,
		)
	}
}

func statusLabel(status string) string {
	switch status {
	case StatusPassed:
		return "PASS"
	case StatusFailed:
		return "FAIL"
	}
	return "SKIP"
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
