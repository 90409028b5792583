package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/apiprobe/internal/auth"
	"github.com/torosent/apiprobe/internal/config"
	"github.com/torosent/apiprobe/internal/extractor"
	"github.com/torosent/apiprobe/internal/httpclient"
	"github.com/torosent/apiprobe/internal/match"
	"github.com/torosent/apiprobe/internal/variables"
)

type recordedCall struct {
	method, path, query, body string
	headers                   http.Header
}

// userAPI serves POST /users (201 with an id), GET /users/{id} and
// DELETE /users/{id}. Paths starting with /fail return 500.
type userAPI struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (a *userAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.calls = append(a.calls, recordedCall{r.Method, r.URL.Path, r.URL.RawQuery, string(body), r.Header.Clone()})
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(r.URL.Path, "/fail"):
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom","trace":"t-1"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/users":
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":42,"etag":"v7"}}`)
	case r.Method == http.MethodGet:
		fmt.Fprint(w, `{"id":42,"name":"Bob"}`)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *userAPI) recorded() []recordedCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedCall(nil), a.calls...)
}

func newDefinition() *config.Definition {
	return &config.Definition{
		Name: "users",
		HTTPEndpoints: []config.HTTPEndpoint{
			{
				Name: "create user", Path: "/users", Method: "POST",
				Headers:        map[string]string{"X-Client": "suite", "X-Mode": "default"},
				Body:           map[string]any{"name": "Alice"},
				ContentType:    "application/json",
				ExpectedStatus: 201,
				ExpectedBody:   match.Decode(map[string]any{"name": "Alice"}),
			},
			{Name: "get user", Path: "/users/{{user_id}}", Method: "GET", ExpectedStatus: 200,
				QueryParams: map[string]any{"expand": "profile"}},
			{Name: "delete user", Path: "/users/{{user_id}}", Method: "DELETE", ExpectedStatus: 204},
			{Name: "broken", Path: "/fail", Method: "GET", ExpectedStatus: 200},
		},
	}
}

func newExecutor(t *testing.T, h http.Handler) *httpclient.Executor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	exec, err := httpclient.NewExecutor(context.Background(), srv.URL, nil, auth.State{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	t.Cleanup(exec.Close)
	return exec
}

func TestRunChainsVariables(t *testing.T) {
	api := &userAPI{}
	runner := NewRunner(newDefinition(), newExecutor(t, api))

	sc := config.Scenario{
		Name: "lifecycle",
		Steps: []config.ScenarioStep{
			{
				Name: "create", EndpointRef: "create user",
				Save:            map[string]string{"user_id": "data.id"},
				Extract:         []extractor.Rule{{JSONPath: "data.etag", Variable: "etag"}},
				OverrideBody:    map[string]any{"name": "Bob", "ref": "{{missing|none}}"},
				OverrideHeaders: map[string]string{"X-Mode": "scenario"},
			},
			{Name: "fetch", EndpointRef: "get user", OverrideParams: map[string]any{"version": "{{etag}}"}},
		},
		Teardown: []config.ScenarioStep{{Name: "remove", EndpointRef: "delete user"}},
	}

	res, err := runner.Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Passed || len(res.Errors) != 0 {
		t.Fatalf("scenario failed: %v", res.Errors)
	}
	if res.Variables["user_id"] != "42" || res.Variables["etag"] != "v7" {
		t.Errorf("variables = %v", res.Variables)
	}
	if len(res.Steps) != 3 || res.Steps[2].Phase != PhaseTeardown {
		t.Fatalf("steps = %+v", res.Steps)
	}
	if res.Steps[2].Call.EndpointName != "[Teardown] remove" {
		t.Errorf("teardown call name = %q", res.Steps[2].Call.EndpointName)
	}

	calls := api.recorded()
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(calls[0].body), &sent); err != nil {
		t.Fatalf("decode create body: %v", err)
	}
	if sent["name"] != "Bob" || sent["ref"] != "none" {
		t.Errorf("create body = %v", sent)
	}
	if calls[0].headers.Get("X-Mode") != "scenario" || calls[0].headers.Get("X-Client") != "suite" {
		t.Errorf("create headers = %v", calls[0].headers)
	}
	if calls[1].path != "/users/42" || calls[1].query != "version=v7" {
		t.Errorf("fetch = %s?%s", calls[1].path, calls[1].query)
	}
	if calls[2].method != http.MethodDelete || calls[2].path != "/users/42" {
		t.Errorf("teardown = %s %s", calls[2].method, calls[2].path)
	}
}

func TestRunStopsAfterFailedStepButRunsTeardown(t *testing.T) {
	api := &userAPI{}
	runner := NewRunner(newDefinition(), newExecutor(t, api))

	sc := config.Scenario{
		Name: "failing",
		Steps: []config.ScenarioStep{
			{Name: "explode", EndpointRef: "broken",
				Extract: []extractor.Rule{{JSONPath: "trace", Variable: "trace", OnError: true}}},
			{Name: "never", EndpointRef: "get user"},
		},
		Teardown: []config.ScenarioStep{
			{Name: "t1", EndpointRef: "broken"},
			{Name: "t2", EndpointRef: "delete user"},
		},
	}

	res, err := runner.Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Passed {
		t.Fatal("scenario should fail")
	}
	if len(res.Steps) != 3 {
		t.Fatalf("got %d steps, want explode, t1, t2", len(res.Steps))
	}
	if res.Steps[0].Name != "explode" || res.Steps[1].Name != "t1" || res.Steps[2].Name != "t2" {
		t.Errorf("step order = %s, %s, %s", res.Steps[0].Name, res.Steps[1].Name, res.Steps[2].Name)
	}
	if !res.Steps[2].Passed {
		t.Errorf("t2 should pass after a failed teardown step: %v", res.Steps[2].Errors)
	}
	if res.Variables["trace"] != "t-1" {
		t.Errorf("on_error extraction missing: %v", res.Variables)
	}
	if len(res.Errors) != 2 || !strings.HasPrefix(res.Errors[0], "explode: Status: expected 200, got 500") ||
		!strings.HasPrefix(res.Errors[1], "[Teardown] t1: ") {
		t.Errorf("errors = %v", res.Errors)
	}
	for _, c := range api.recorded() {
		if c.path == "/users/{{user_id}}" && c.method == http.MethodGet {
			t.Error("step after the failure was executed")
		}
	}
}

func TestRunSetupFailureSkipsSteps(t *testing.T) {
	api := &userAPI{}
	core, logs := observer.New(zapcore.WarnLevel)
	runner := NewRunner(newDefinition(), newExecutor(t, api), WithLogger(zap.New(core)))

	res, err := runner.Run(context.Background(), config.Scenario{
		Name:     "guarded",
		Setup:    []config.ScenarioStep{{Name: "prepare", EndpointRef: "broken"}},
		Steps:    []config.ScenarioStep{{Name: "main", EndpointRef: "create user"}},
		Teardown: []config.ScenarioStep{{Name: "cleanup", EndpointRef: "delete user"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Passed || len(res.Steps) != 2 {
		t.Fatalf("steps = %+v", res.Steps)
	}
	if res.Steps[0].Phase != PhaseSetup || res.Steps[1].Phase != PhaseTeardown {
		t.Errorf("phases = %s, %s", res.Steps[0].Phase, res.Steps[1].Phase)
	}
	if !strings.HasPrefix(res.Errors[0], "[Setup] prepare: ") {
		t.Errorf("errors = %v", res.Errors)
	}
	if logs.FilterMessage("setup failed, skipping scenario steps").Len() != 1 {
		t.Errorf("missing skip warning, got %v", logs.All())
	}
}

type fakeCaller struct {
	specs  []httpclient.CallSpec
	result func(spec httpclient.CallSpec) (*httpclient.CallResult, error)
}

func (f *fakeCaller) Execute(_ context.Context, spec httpclient.CallSpec) (*httpclient.CallResult, error) {
	f.specs = append(f.specs, spec)
	return f.result(spec)
}

func TestRunUnknownEndpointAndResourceError(t *testing.T) {
	caller := &fakeCaller{result: func(spec httpclient.CallSpec) (*httpclient.CallResult, error) {
		return nil, &httpclient.ResourceError{Path: "avatar.png", Err: fmt.Errorf("no such file")}
	}}
	runner := NewRunner(newDefinition(), caller)

	res, _ := runner.Run(context.Background(), config.Scenario{
		Name:     "bad refs",
		Steps:    []config.ScenarioStep{{Name: "ghost", EndpointRef: "nope"}},
		Teardown: []config.ScenarioStep{{Name: "upload", EndpointRef: "get user"}},
	})
	if res.Passed || len(res.Steps) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Steps[0].Call != nil || res.Steps[0].Errors[0] != `endpoint_ref "nope" not found` {
		t.Errorf("ghost step = %+v", res.Steps[0])
	}
	if !strings.Contains(res.Steps[1].Errors[0], "avatar.png") {
		t.Errorf("resource error not reported: %v", res.Steps[1].Errors)
	}
	if len(caller.specs) != 1 {
		t.Errorf("caller invoked %d times, want 1", len(caller.specs))
	}
}

func TestRunMissingSavePathWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	caller := &fakeCaller{result: func(spec httpclient.CallSpec) (*httpclient.CallResult, error) {
		return &httpclient.CallResult{StatusCode: 201, Passed: true, Body: map[string]any{"other": 1}}, nil
	}}
	runner := NewRunner(newDefinition(), caller, WithLogger(zap.New(core)))

	res, err := runner.Run(context.Background(), config.Scenario{
		Name:  "missing save",
		Steps: []config.ScenarioStep{{Name: "create", EndpointRef: "create user", Save: map[string]string{"user_id": "data.id"}}},
	})
	if err != nil || !res.Passed {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	if _, ok := res.Variables["user_id"]; ok {
		t.Error("unresolved save path should not set a variable")
	}
	entries := logs.FilterMessage("save path not found in response").All()
	if len(entries) != 1 || entries[0].ContextMap()["path"] != "data.id" {
		t.Errorf("log entries = %v", logs.All())
	}
}

func TestRunCancelled(t *testing.T) {
	caller := &fakeCaller{result: func(spec httpclient.CallSpec) (*httpclient.CallResult, error) {
		return &httpclient.CallResult{StatusCode: 200, Passed: true}, nil
	}}
	runner := NewRunner(newDefinition(), caller)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := runner.Run(ctx, config.Scenario{
		Name:     "cancelled",
		Steps:    []config.ScenarioStep{{Name: "main", EndpointRef: "get user"}},
		Teardown: []config.ScenarioStep{{Name: "cleanup", EndpointRef: "delete user"}},
	})
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(caller.specs) != 1 || caller.specs[0].Name != "[Teardown] cleanup" {
		t.Errorf("calls = %+v, want only the teardown", caller.specs)
	}
	if !res.Passed {
		t.Errorf("no step failed, result = %+v", res)
	}
}

func TestBuildSpec(t *testing.T) {
	store := variables.NewStore()
	store.Set("user_id", "9")
	def := newDefinition()
	ep, _ := def.HTTPEndpoint("get user")

	spec := BuildSpec(ep, config.ScenarioStep{}, store)
	if spec.Path != "/users/9" || spec.Query["expand"] != "profile" {
		t.Errorf("spec = %+v", spec)
	}

	create, _ := def.HTTPEndpoint("create user")
	spec = BuildSpec(create, config.ScenarioStep{OverrideParams: map[string]any{"dry": "{{user_id}}"}}, store)
	if spec.ExpectedBody != nil || spec.ExpectedStatus != 201 {
		t.Errorf("expectations = %+v / %d", spec.ExpectedBody, spec.ExpectedStatus)
	}
	if spec.Query["dry"] != "9" || spec.Body.(map[string]any)["name"] != "Alice" {
		t.Errorf("spec = %+v", spec)
	}
	if create.Body.(map[string]any)["name"] != "Alice" || len(create.Headers) != 2 {
		t.Error("BuildSpec modified the endpoint")
	}
}

func TestRunRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	caller := &fakeCaller{result: func(spec httpclient.CallSpec) (*httpclient.CallResult, error) {
		return &httpclient.CallResult{StatusCode: 500, Errors: []string{"Status: expected 200, got 500"}}, nil
	}}
	runner := NewRunner(newDefinition(), caller, WithTracer(tp.Tracer("test")))
	if _, err := runner.Run(context.Background(), config.Scenario{
		Name:  "traced",
		Steps: []config.ScenarioStep{{Name: "main", EndpointRef: "get user"}},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "scenario traced" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Description != "main: Status: expected 200, got 500" {
		t.Errorf("span status = %+v", spans[0].Status())
	}
}
