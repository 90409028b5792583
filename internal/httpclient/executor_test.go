package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/apiprobe/internal/auth"
	"github.com/torosent/apiprobe/internal/match"
	"github.com/torosent/apiprobe/internal/retry"
)

func newExecutor(t *testing.T, baseURL string, headers map[string]string, opts ...Option) *Executor {
	t.Helper()
	e, err := NewExecutor(context.Background(), baseURL, headers, auth.State{}, opts...)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func fastRetry(maxRetries int, statuses ...int) retry.Policy {
	return retry.Policy{
		MaxRetries:     maxRetries,
		Backoff:        []time.Duration{time.Millisecond},
		RetryOnStatus:  statuses,
		RetryOnTimeout: true,
	}
}

func TestExecuteCreatePasses(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusCreated, `{"id": 7, "name": "Alice"}`))
	defer server.Close()

	e := newExecutor(t, server.URL+"/", nil)
	res, err := e.Execute(context.Background(), CallSpec{
		Name:           "create",
		Path:           "/users",
		Method:         "post",
		Body:           map[string]any{"name": "Alice"},
		ContentType:    "application/json",
		ExpectedStatus: http.StatusCreated,
		ExpectedBody:   match.Decode(map[string]any{"id": "type:int", "name": "regex:^[A-Za-z]+$"}),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Passed || len(res.Errors) != 0 {
		t.Fatalf("expected pass, got errors %v", res.Errors)
	}
	if res.Method != http.MethodPost || res.URL != server.URL+"/users" {
		t.Errorf("unexpected method/url %s %s", res.Method, res.URL)
	}
	if res.Retries != 0 {
		t.Errorf("expected 0 retries, got %d", res.Retries)
	}
}

func TestExecuteTypeMismatchYieldsOneError(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusCreated, `{"id": "seven", "name": "Alice"}`))
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{
		Name:           "create",
		Path:           "/users",
		Method:         http.MethodPost,
		ExpectedStatus: http.StatusCreated,
		ExpectedBody:   match.Decode(map[string]any{"id": "type:int", "name": "regex:^[A-Za-z]+$"}),
	})
	if res.Passed {
		t.Fatal("expected failure")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "type:int") {
		t.Fatalf("expected one type:int error, got %v", res.Errors)
	}
}

func TestExecuteRetriesRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{
		Name:           "flaky",
		Path:           "/",
		ExpectedStatus: http.StatusOK,
		Retry:          fastRetry(2, 500),
	})
	if !res.Passed {
		t.Fatalf("expected pass, got %v", res.Errors)
	}
	if res.Retries != 2 {
		t.Errorf("expected 2 retries, got %d", res.Retries)
	}
}

func TestExecuteRetriesExhaustedKeepsLastStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{
		Path:           "/",
		ExpectedStatus: http.StatusOK,
		Retry:          fastRetry(2, 500),
	})
	if res.Passed {
		t.Fatal("expected failure")
	}
	if res.Retries != 2 || res.StatusCode != 500 {
		t.Fatalf("expected retries=2 status=500, got %d %d", res.Retries, res.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if res.Errors[0] != "Status: expected 200, got 500" {
		t.Errorf("unexpected error %q", res.Errors[0])
	}
}

func TestExecuteNonRetryableStatusIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{Path: "/", ExpectedStatus: 404, Retry: fastRetry(3, 500)})
	if !res.Passed || res.Retries != 0 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("unexpected result passed=%v retries=%d calls=%d", res.Passed, res.Retries, calls)
	}
}

func slowServer(delay time.Duration, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestExecuteTimeoutWithoutRetryReturnsImmediately(t *testing.T) {
	var calls int32
	server := slowServer(500*time.Millisecond, &calls)
	defer server.Close()

	policy := fastRetry(3)
	policy.RetryOnTimeout = false

	e := newExecutor(t, server.URL, nil)
	res, err := e.Execute(context.Background(), CallSpec{
		Path:           "/",
		ExpectedStatus: http.StatusOK,
		Timeout:        20 * time.Millisecond,
		Retry:          policy,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.StatusCode != 0 || res.Retries != 0 || res.Passed {
		t.Fatalf("unexpected result status=%d retries=%d passed=%v", res.StatusCode, res.Retries, res.Passed)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Request timeout after") {
		t.Fatalf("expected timeout error, got %v", res.Errors)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestExecuteTimeoutRetried(t *testing.T) {
	var calls int32
	server := slowServer(500*time.Millisecond, &calls)
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{
		Path:           "/",
		ExpectedStatus: http.StatusOK,
		Timeout:        20 * time.Millisecond,
		Retry:          fastRetry(1),
	})
	if res.Retries != 1 || res.StatusCode != 0 {
		t.Fatalf("expected 1 retry and status 0, got %d %d", res.Retries, res.StatusCode)
	}
	if !strings.Contains(res.Errors[0], "timeout") {
		t.Errorf("expected timeout error, got %v", res.Errors)
	}
}

func TestExecuteConnectionErrorIsCaptured(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	e := newExecutor(t, base, nil)
	res, err := e.Execute(context.Background(), CallSpec{Path: "/", ExpectedStatus: 200, Retry: fastRetry(1)})
	if err != nil {
		t.Fatalf("transport failure must not be returned: %v", err)
	}
	if res.StatusCode != 0 || res.Retries != 1 {
		t.Fatalf("unexpected status=%d retries=%d", res.StatusCode, res.Retries)
	}
	if !strings.HasPrefix(res.Errors[0], "Request error:") {
		t.Errorf("unexpected error %v", res.Errors)
	}
}

func TestExecuteHeadersAuthAndQuery(t *testing.T) {
	var got http.Header
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e, err := NewExecutor(context.Background(), server.URL,
		map[string]string{"X-Env": "staging", "Accept": "text/plain"},
		auth.State{Kind: auth.KindBearer, Token: "tok"})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer e.Close()

	res, _ := e.Execute(context.Background(), CallSpec{
		Path:           "/search",
		Headers:        map[string]string{"accept": "application/json"},
		Query:          map[string]any{"q": "go", "tag": []any{"a", "b"}},
		ExpectedStatus: http.StatusOK,
	})
	if !res.Passed {
		t.Fatalf("expected pass, got %v", res.Errors)
	}
	if got.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("X-Env") != "staging" || got.Get("Accept") != "application/json" {
		t.Errorf("headers not merged correctly: %v", got)
	}
	if query != "q=go&tag=a&tag=b" {
		t.Errorf("query = %q", query)
	}
	if res.RequestHeaders.Get("Accept") != "application/json" {
		t.Errorf("request headers not echoed: %v", res.RequestHeaders)
	}
}

func TestExecuteBodyEncodings(t *testing.T) {
	type captured struct {
		contentType string
		body        string
	}
	var last captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		last = captured{contentType: r.Header.Get("Content-Type"), body: string(b)}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	e := newExecutor(t, server.URL, nil)

	tests := []struct {
		name        string
		method      string
		body        any
		contentType string
		wantBody    string
		wantCT      string
	}{
		{"json", http.MethodPost, map[string]any{"a": 1}, "application/json", `{"a":1}`, "application/json"},
		{"form", http.MethodPut, map[string]any{"a": "x y"}, "application/x-www-form-urlencoded", "a=x+y", "application/x-www-form-urlencoded"},
		{"raw", http.MethodPatch, "plain text", "text/plain", "plain text", "text/plain"},
		{"get ignores body", http.MethodGet, map[string]any{"a": 1}, "application/json", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := e.Execute(context.Background(), CallSpec{
				Path: "/", Method: tt.method, Body: tt.body, ContentType: tt.contentType, ExpectedStatus: 200,
			})
			if !res.Passed {
				t.Fatalf("expected pass, got %v", res.Errors)
			}
			if last.body != tt.wantBody {
				t.Errorf("body = %q, want %q", last.body, tt.wantBody)
			}
			if last.contentType != tt.wantCT {
				t.Errorf("content type = %q, want %q", last.contentType, tt.wantCT)
			}
		})
	}
}

func TestExecuteMultipartUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avatar.txt")
	if err := os.WriteFile(path, []byte("file-content"), 0o600); err != nil {
		t.Fatal(err)
	}

	var fileContent, fileName, field string
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("avatar")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		fileContent, fileName, field = string(b), hdr.Filename, r.FormValue("user")
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, err := e.Execute(context.Background(), CallSpec{
		Path:           "/upload",
		Method:         http.MethodPost,
		Body:           map[string]any{"user": "alice"},
		ContentType:    "application/json",
		UploadFiles:    map[string]string{"avatar": path},
		ExpectedStatus: http.StatusOK,
		Retry:          fastRetry(1, 503),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Passed || res.Retries != 1 {
		t.Fatalf("expected pass after one retry, got %v retries=%d", res.Errors, res.Retries)
	}
	if fileContent != "file-content" || fileName != "avatar.txt" || field != "alice" {
		t.Errorf("unexpected upload %q %q %q", fileContent, fileName, field)
	}
}

func TestExecuteMissingUploadFileIsAnError(t *testing.T) {
	e := newExecutor(t, "http://127.0.0.1:1", nil)
	res, err := e.Execute(context.Background(), CallSpec{
		Path:        "/upload",
		Method:      http.MethodPost,
		UploadFiles: map[string]string{"f": filepath.Join(t.TempDir(), "missing.bin")},
	})
	var resErr *ResourceError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResourceError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist cause, got %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
}

func TestExecuteRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", jsonHandler(http.StatusOK, `{}`))
	server := httptest.NewServer(mux)
	defer server.Close()

	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{Path: "/old", ExpectedStatus: http.StatusOK, FollowRedirects: true})
	if !res.Passed {
		t.Errorf("follow: expected pass, got %v", res.Errors)
	}
	res, _ = e.Execute(context.Background(), CallSpec{Path: "/old", ExpectedStatus: http.StatusFound})
	if !res.Passed {
		t.Errorf("no follow: expected 302, got %v", res.Errors)
	}
	if res.Headers.Get("Location") != "/new" {
		t.Errorf("Location = %q", res.Headers.Get("Location"))
	}
}

func TestExecuteBodyShapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantBody any
		wantErr  string
	}{
		{"text", "hello", "hello", "Body: expected dict, got string"},
		{"list", `[1, 2]`, nil, "Body: expected dict, got list (length 2)"},
		{"broken json", `{"a":`, `{"a":`, "Body: expected dict, got string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(jsonHandler(http.StatusOK, tt.body))
			defer server.Close()
			e := newExecutor(t, server.URL, nil)
			res, _ := e.Execute(context.Background(), CallSpec{
				Path:           "/",
				ExpectedStatus: 200,
				ExpectedBody:   match.Decode(map[string]any{"a": 1}),
			})
			if len(res.Errors) != 1 || res.Errors[0] != tt.wantErr {
				t.Fatalf("errors = %v, want [%s]", res.Errors, tt.wantErr)
			}
			if tt.wantBody != nil && res.Body != tt.wantBody {
				t.Errorf("body = %#v, want %#v", res.Body, tt.wantBody)
			}
		})
	}
}

func TestExecuteDecodesNumbers(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, `{"count": 3}`))
	defer server.Close()
	e := newExecutor(t, server.URL, nil)
	res, _ := e.Execute(context.Background(), CallSpec{Path: "/", ExpectedStatus: 200})
	body, ok := res.Body.(map[string]any)
	if !ok {
		t.Fatalf("expected object body, got %T", res.Body)
	}
	if body["count"] != json.Number("3") {
		t.Errorf("count = %#v", body["count"])
	}
}

func TestExecuteHeaderExpectations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Request-Id", "abc-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	e := newExecutor(t, server.URL, nil)

	res, _ := e.Execute(context.Background(), CallSpec{
		Path:           "/",
		ExpectedStatus: 200,
		ExpectedHeaders: match.Decode(map[string]any{
			"content-type": "regex:application/json",
			"x-request-id": "abc-123",
		}),
	})
	if !res.Passed {
		t.Fatalf("expected pass, got %v", res.Errors)
	}

	res, _ = e.Execute(context.Background(), CallSpec{
		Path:            "/",
		ExpectedStatus:  200,
		ExpectedHeaders: match.Decode(map[string]any{"X-Missing": "yes"}),
	})
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Header['X-Missing']") {
		t.Fatalf("unexpected errors %v", res.Errors)
	}
}

func TestExecuteMaxResponseTime(t *testing.T) {
	var calls int32
	server := slowServer(30*time.Millisecond, &calls)
	defer server.Close()
	e := newExecutor(t, server.URL, nil)

	res, _ := e.Execute(context.Background(), CallSpec{
		Path:            "/",
		ExpectedStatus:  200,
		MaxResponseTime: time.Millisecond,
	})
	if res.Passed || len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Response time:") {
		t.Fatalf("expected response time error, got %v", res.Errors)
	}
}

func TestExecuteLogsBoundedFailureExcerpt(t *testing.T) {
	large := `{"blob":"` + strings.Repeat("x", 5000) + `"}`
	server := httptest.NewServer(jsonHandler(http.StatusBadRequest, large))
	defer server.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	e := newExecutor(t, server.URL, nil, WithLogger(zap.New(core)))
	res, _ := e.Execute(context.Background(), CallSpec{Name: "big", Path: "/", ExpectedStatus: 200})
	if res.Passed {
		t.Fatal("expected failure")
	}

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if got := fields["response_body"].(string); len(got) != logExcerptLimit {
		t.Errorf("excerpt length = %d, want %d", len(got), logExcerptLimit)
	}
	if fields["endpoint"] != "big" {
		t.Errorf("endpoint field = %v", fields["endpoint"])
	}
	if len(res.RawBody) != len(large) {
		t.Errorf("result body must not be truncated")
	}
}

func TestNewExecutorLoginFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewExecutor(context.Background(), server.URL, nil, auth.State{Kind: auth.KindLogin})
	if err == nil {
		t.Fatal("expected login failure to abort construction")
	}
}

func TestNewExecutorLoginInstallsBearer(t *testing.T) {
	var seen string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", jsonHandler(http.StatusOK, `{"token":"t-1"}`))
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	e, err := NewExecutor(context.Background(), server.URL, nil, auth.State{Kind: auth.KindLogin})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer e.Close()
	e.Execute(context.Background(), CallSpec{Path: "/me", ExpectedStatus: 200})
	if seen != "Bearer t-1" {
		t.Errorf("Authorization = %q", seen)
	}
}

func TestExecuteTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := newExecutor(t, server.URL, nil, WithTracer(tp.Tracer("test"), true))
	e.Execute(context.Background(), CallSpec{Name: "health", Path: "/", ExpectedStatus: 200})

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "http health" {
		t.Fatalf("unexpected spans %v", spans)
	}
	if traceparent == "" {
		t.Error("expected traceparent header")
	}
}
