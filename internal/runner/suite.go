package runner

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/torosent/apiprobe/internal/config"
	"github.com/torosent/apiprobe/internal/httpclient"
	"github.com/torosent/apiprobe/internal/retry"
	"github.com/torosent/apiprobe/internal/scenario"
	"github.com/torosent/apiprobe/internal/testdata"
	"github.com/torosent/apiprobe/internal/variables"
	"github.com/torosent/apiprobe/internal/websocket"
)

// Caller executes one HTTP call. *httpclient.Executor implements it.
type Caller = scenario.Caller

// SessionExecutor runs one WebSocket session. *websocket.Executor
// implements it.
type SessionExecutor interface {
	Execute(ctx context.Context, name, url string, headers http.Header, steps []websocket.Step, timeout time.Duration, policy retry.Policy) *websocket.SessionResult
}

// ScenarioRunner runs one scenario. *scenario.Runner implements it.
type ScenarioRunner interface {
	Run(ctx context.Context, sc config.Scenario) (*scenario.Result, error)
}

// Suite holds what is needed to turn a definition into jobs. A nil
// executor leaves the matching endpoints out.
type Suite struct {
	Definition *config.Definition
	HTTP       Caller
	WebSocket  SessionExecutor
	Scenarios  ScenarioRunner
	// Data resolves the definition's test_data_file.
	Data *testdata.Loader
	// Tags selects items carrying any of them; empty selects all.
	Tags []string
	// SkipTags drops items carrying any of them.
	SkipTags []string
}

// Selected reports whether an item with the given tags passes the tag filter.
func (s Suite) Selected(tags []string) bool {
	for _, t := range tags {
		if slices.Contains(s.SkipTags, t) {
			return false
		}
	}
	if len(s.Tags) == 0 {
		return true
	}
	for _, t := range tags {
		if slices.Contains(s.Tags, t) {
			return true
		}
	}
	return false
}

// Jobs builds the job list in definition order: HTTP endpoints, then
// WebSocket endpoints, then scenarios. An HTTP endpoint with a map body runs
// once per test data record when the definition names a test data file.
func (s Suite) Jobs() ([]Job, error) {
	def := s.Definition
	var jobs []Job

	var records []testdata.Record
	if def.TestDataFile != "" && s.HTTP != nil {
		if s.Data == nil {
			return nil, fmt.Errorf("definition %q: test_data_file %q set without a data directory", def.Name, def.TestDataFile)
		}
		var err error
		records, err = s.Data.Load(def.TestDataFile)
		if err != nil {
			return nil, fmt.Errorf("definition %q: %w", def.Name, err)
		}
	}

	if s.HTTP != nil {
		for _, ep := range def.HTTPEndpoints {
			if !s.Selected(ep.Tags) {
				continue
			}
			body, isMap := ep.Body.(map[string]any)
			if len(records) == 0 || !isMap {
				jobs = append(jobs, s.httpJob(ep.Name, ep.Tags, ep.CallSpec()))
				continue
			}
			for i, rec := range records {
				spec := ep.CallSpec()
				spec.Name = fmt.Sprintf("%s [%s]", ep.Name, recordID(rec, i))
				spec.Body = mergeRecord(body, rec)
				jobs = append(jobs, s.httpJob(spec.Name, ep.Tags, spec))
			}
		}
	}

	if s.WebSocket != nil {
		for _, ep := range def.WSSEndpoints {
			if !s.Selected(ep.Tags) {
				continue
			}
			jobs = append(jobs, s.sessionJob(ep))
		}
	}

	if s.Scenarios != nil {
		for _, sc := range def.Scenarios {
			if !s.Selected(sc.Tags) {
				continue
			}
			jobs = append(jobs, s.scenarioJob(sc))
		}
	}
	return jobs, nil
}

func (s Suite) httpJob(name string, tags []string, spec httpclient.CallSpec) Job {
	spec = withPlaceholderDefaults(spec)
	return Job{
		Kind: KindHTTP,
		Name: name,
		Tags: tags,
		Run: func(ctx context.Context) Outcome {
			out := Outcome{Kind: KindHTTP, Name: name}
			res, err := s.HTTP.Execute(ctx, spec)
			if err != nil {
				out.Errors = []string{err.Error()}
				out.Code = "resource"
				return out
			}
			out.HTTP = res
			out.Passed = res.Passed
			out.Errors = res.Errors
			out.Elapsed = res.Elapsed
			if res.StatusCode != 0 {
				out.Code = strconv.Itoa(res.StatusCode)
			} else {
				out.Code = "no response"
			}
			return out
		},
	}
}

func (s Suite) sessionJob(ep config.WSSEndpoint) Job {
	return Job{
		Kind: KindWebSocket,
		Name: ep.Name,
		Tags: ep.Tags,
		Run: func(ctx context.Context) Outcome {
			out := Outcome{Kind: KindWebSocket, Name: ep.Name}
			headers, err := httpclient.BuildHeaders(ep.Headers)
			if err != nil {
				out.Errors = []string{err.Error()}
				out.Code = "headers"
				return out
			}
			res := s.WebSocket.Execute(ctx, ep.Name, ep.URL, headers, ep.Steps, ep.Timeout, ep.Retry)
			out.Session = res
			out.Passed = res.Passed
			out.Errors = res.Errors
			out.Elapsed = res.Elapsed
			if !res.Connected {
				out.Code = "not connected"
			} else {
				out.Code = "step failed"
			}
			return out
		},
	}
}

func (s Suite) scenarioJob(sc config.Scenario) Job {
	return Job{
		Kind: KindScenario,
		Name: sc.Name,
		Tags: sc.Tags,
		Run: func(ctx context.Context) Outcome {
			out := Outcome{Kind: KindScenario, Name: sc.Name}
			res, err := s.Scenarios.Run(ctx, sc)
			if res != nil {
				out.Scenario = res
				out.Passed = res.Passed
				out.Errors = res.Errors
				out.Elapsed = res.Elapsed
			}
			if err != nil {
				out.Passed = false
				out.Errors = append(out.Errors, err.Error())
			}
			out.Code = "step failed"
			return out
		},
	}
}

// withPlaceholderDefaults resolves {{name|default}} placeholders outside
// scenarios, where no variables exist. Placeholders without a default stay
// as written.
func withPlaceholderDefaults(spec httpclient.CallSpec) httpclient.CallSpec {
	empty := variables.NewStore()
	spec.Path = variables.Apply(spec.Path, empty)
	spec.Body = variables.ApplyValue(spec.Body, empty)
	spec.Headers = variables.ApplyMap(spec.Headers, empty)
	if spec.Query != nil {
		spec.Query, _ = variables.ApplyValue(spec.Query, empty).(map[string]any)
	}
	return spec
}

// recordID names a data-driven call by the record's "name" field, falling
// back to its index.
func recordID(rec testdata.Record, i int) string {
	if name, ok := rec["name"]; ok && name != nil {
		return fmt.Sprint(name)
	}
	return strconv.Itoa(i)
}

// mergeRecord copies body and replaces top-level keys that rec also has.
func mergeRecord(body map[string]any, rec testdata.Record) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if rv, ok := rec[k]; ok {
			v = rv
		}
		out[k] = v
	}
	return out
}
