package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/apiprobe/internal/auth"
	"github.com/torosent/apiprobe/internal/match"
	"github.com/torosent/apiprobe/internal/retry"
	"github.com/torosent/apiprobe/internal/tracing"
)

const (
	// DefaultTimeout applies when a call does not set one.
	DefaultTimeout = 30 * time.Second

	logExcerptLimit = 1000
)

// CallSpec describes one endpoint call. It is fully resolved: environment
// substitution and placeholder expansion have already happened.
type CallSpec struct {
	Name            string
	Path            string
	Method          string
	Headers         map[string]string
	Query           map[string]any
	Body            any
	ContentType     string
	ExpectedStatus  int
	ExpectedBody    match.Tree
	ExpectedHeaders match.Tree
	MaxResponseTime time.Duration // zero disables the check
	Timeout         time.Duration
	Retry           retry.Policy
	UploadFiles     map[string]string // form field -> local path
	FollowRedirects bool
}

// CallResult is the outcome of one call. StatusCode 0 means no response
// was received.
type CallResult struct {
	EndpointName   string
	Method         string
	URL            string
	StatusCode     int
	Body           any // decoded JSON (numbers as json.Number) or raw text
	RawBody        []byte
	Headers        http.Header
	Elapsed        time.Duration
	ElapsedMs      float64
	Passed         bool
	Errors         []string
	RequestHeaders http.Header
	RequestBody    any
	Retries        int
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer wraps every call in a client span. When propagate is set the
// W3C trace context is injected into outgoing headers.
func WithTracer(t trace.Tracer, propagate bool) Option {
	return func(e *Executor) {
		e.tracer = t
		e.propagate = propagate
	}
}

// WithTransport replaces the pooled transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Executor) {
		if rt != nil {
			e.transport = rt
		}
	}
}

// Executor issues endpoint calls against one base URL. Its header set,
// including any resolved authentication, is fixed at construction, so a
// single Executor may serve concurrent calls.
type Executor struct {
	baseURL   string
	headers   http.Header
	transport http.RoundTripper
	follow    *http.Client
	noFollow  *http.Client
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
}

// NewExecutor builds an executor for baseURL. Authentication is resolved
// here: a login or OAuth2 state performs its network call before
// NewExecutor returns, and a failed login is returned as an error.
func NewExecutor(ctx context.Context, baseURL string, defaultHeaders map[string]string, state auth.State, opts ...Option) (*Executor, error) {
	headers, err := BuildHeaders(defaultHeaders)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.transport = newTransport()
	}
	e.follow = newClient(e.transport, 0, true)
	e.noFollow = newClient(e.transport, 0, false)

	authHeaders, err := auth.Resolve(ctx, state, auth.Env{
		BaseURL:     e.baseURL,
		BaseHeaders: headers,
		Client:      e.follow,
		Logger:      e.logger,
	})
	if err != nil {
		return nil, err
	}
	e.headers = mergeHeaders(headers, authHeaders)
	return e, nil
}

// BaseURL returns the base URL without a trailing slash.
func (e *Executor) BaseURL() string {
	return e.baseURL
}

// Close releases pooled connections.
func (e *Executor) Close() {
	e.follow.CloseIdleConnections()
}

type response struct {
	status  int
	headers http.Header
	body    []byte
	elapsed time.Duration
}

// Execute performs the call with retries and validates the response.
// Transport failures and mismatches are reported in the result; the only
// returned error is a *ResourceError for an unusable upload file.
func (e *Executor) Execute(ctx context.Context, spec CallSpec) (*CallResult, error) {
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result := &CallResult{
		EndpointName: spec.Name,
		Method:       method,
		URL:          e.baseURL + spec.Path,
		RequestBody:  spec.Body,
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, e.tracer, "http", spec.Name)
		defer func() {
			var err error
			if !result.Passed {
				err = errors.New(strings.Join(result.Errors, "; "))
			}
			tracing.EndSpan(span, err,
				attribute.String("http.request.method", method),
				attribute.Int("http.response.status_code", result.StatusCode),
				attribute.Int("apiprobe.retries", result.Retries),
			)
		}()
	}

	callHeaders, err := BuildHeaders(spec.Headers)
	if err != nil {
		result.Errors = []string{fmt.Sprintf("Request error: %v", err)}
		return result, nil
	}
	reqHeaders := mergeHeaders(e.headers, callHeaders)
	result.RequestHeaders = reqHeaders

	target, err := withQuery(result.URL, spec.Query)
	if err != nil {
		result.Errors = []string{fmt.Sprintf("Request error: %v", err)}
		return result, nil
	}
	result.URL = target

	body, err := NewBodySource(method, spec.Body, spec.ContentType, spec.UploadFiles)
	if err != nil {
		var resErr *ResourceError
		if errors.As(err, &resErr) {
			return nil, err
		}
		result.Errors = []string{fmt.Sprintf("Request error: %v", err)}
		return result, nil
	}

	client := e.noFollow
	if spec.FollowRedirects {
		client = e.follow
	}

	var lastElapsed time.Duration
	res := retry.Do(ctx, spec.Retry, func(ctx context.Context, attempt int) retry.Outcome[*response] {
		start := time.Now()
		resp, err := e.attempt(ctx, client, method, target, reqHeaders, body, timeout)
		lastElapsed = time.Since(start)
		if err != nil {
			var resErr *ResourceError
			switch {
			case errors.As(err, &resErr):
				return retry.Stop[*response](nil, err, "resource")
			case ctx.Err() != nil:
				return retry.Stop[*response](nil, err, "cancelled")
			case isTimeout(err):
				if spec.Retry.RetryOnTimeout {
					return retry.Again[*response](nil, err, "timeout")
				}
				return retry.Stop[*response](nil, err, "timeout")
			default:
				return retry.Again[*response](nil, err, errorKind(err))
			}
		}
		e.logger.Debug("http attempt",
			zap.String("endpoint", spec.Name),
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("status", resp.status),
			zap.Duration("elapsed", resp.elapsed),
			zap.Int("attempt", attempt+1),
		)

		if spec.Retry.RetryableStatus(resp.status) {
			return retry.Again(resp, nil, fmt.Sprintf("got %d", resp.status))
		}
		return retry.Succeed(resp)
	}, retry.OnRetry(func(attempt int, reason string, wait time.Duration) {
		e.logger.Info("retrying request",
			zap.String("endpoint", spec.Name),
			zap.String("reason", reason),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", spec.Retry.MaxRetries),
		)
	}))

	result.Retries = res.Retries
	resp := res.Value

	if resp == nil {
		var resErr *ResourceError
		if errors.As(res.Err, &resErr) {
			return nil, res.Err
		}
		result.Elapsed = lastElapsed
		result.ElapsedMs = millis(lastElapsed)
		switch {
		case res.Err != nil && isTimeout(res.Err):
			result.Errors = []string{fmt.Sprintf("Request timeout after %gs", timeout.Seconds())}
		case res.Err != nil:
			result.Errors = []string{fmt.Sprintf("Request error: %v", res.Err)}
		default:
			result.Errors = []string{fmt.Sprintf("No response after %d retries", spec.Retry.MaxRetries)}
		}
		e.logFailure(result, nil)
		return result, nil
	}

	result.StatusCode = resp.status
	result.Headers = resp.headers
	result.RawBody = resp.body
	result.Body = decodeBody(resp.body)
	result.Elapsed = resp.elapsed
	result.ElapsedMs = millis(resp.elapsed)

	result.Errors = validate(spec, result)
	result.Passed = len(result.Errors) == 0
	if !result.Passed {
		e.logFailure(result, resp.body)
	}
	return result, nil
}

func (e *Executor) attempt(ctx context.Context, client *http.Client, method, target string, headers http.Header, body BodySource, timeout time.Duration) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reader, err := body.NewReader()
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader = http.NoBody
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	if ct := body.ContentType(); ct != "" && (req.Header.Get("Content-Type") == "" || strings.HasPrefix(ct, "multipart/")) {
		req.Header.Set("Content-Type", ct)
	}
	if e.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	return &response{
		status:  resp.StatusCode,
		headers: resp.Header,
		body:    data,
		elapsed: elapsed,
	}, nil
}

func validate(spec CallSpec, result *CallResult) []string {
	var errs []string
	if result.StatusCode != spec.ExpectedStatus {
		errs = append(errs, fmt.Sprintf("Status: expected %d, got %d", spec.ExpectedStatus, result.StatusCode))
	}
	if len(spec.ExpectedBody) > 0 {
		errs = append(errs, spec.ExpectedBody.Match(result.Body)...)
	}
	if len(spec.ExpectedHeaders) > 0 {
		errs = append(errs, match.MatchHeaders(spec.ExpectedHeaders, result.Headers)...)
	}
	if spec.MaxResponseTime > 0 && result.Elapsed > spec.MaxResponseTime {
		errs = append(errs, fmt.Sprintf("Response time: %.0fms exceeds limit %dms",
			result.ElapsedMs, spec.MaxResponseTime.Milliseconds()))
	}
	return errs
}

func (e *Executor) logFailure(result *CallResult, respBody []byte) {
	fields := []zap.Field{
		zap.String("endpoint", result.EndpointName),
		zap.Strings("errors", result.Errors),
		zap.String("method", result.Method),
		zap.String("url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("retries", result.Retries),
	}
	if result.RequestBody != nil {
		encoded, err := json.Marshal(result.RequestBody)
		if err != nil {
			encoded = []byte(fmt.Sprint(result.RequestBody))
		}
		fields = append(fields, zap.String("request_body", excerpt(encoded)))
	}
	if respBody != nil {
		fields = append(fields, zap.String("response_body", excerpt(respBody)))
	}
	e.logger.Warn("request failed", fields...)
}

func excerpt(b []byte) string {
	if len(b) > logExcerptLimit {
		b = b[:logExcerptLimit]
	}
	return string(b)
}

// decodeBody parses JSON, keeping numbers as json.Number, and falls back
// to the raw text.
func decodeBody(data []byte) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(data)
	}
	if _, err := dec.Token(); err != io.EOF {
		return string(data)
	}
	return v
}

func withQuery(target string, query map[string]any) (string, error) {
	if len(query) == 0 {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addFormValue(q, k, query[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorKind(err error) string {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op + " error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "request error"
	}
	return "error"
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
