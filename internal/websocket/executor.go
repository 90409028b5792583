package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/apiprobe/internal/match"
	"github.com/torosent/apiprobe/internal/retry"
	"github.com/torosent/apiprobe/internal/tracing"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Action   string
	Sent     any
	Received any
	Passed   bool
	Error    string
}

// SessionResult is the outcome of one session.
type SessionResult struct {
	EndpointName string
	URL          string
	Connected    bool
	Steps        []StepResult
	Elapsed      time.Duration
	ElapsedMs    float64
	Passed       bool
	Errors       []string
	Metrics      Metrics
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

// WithTracer wraps every session in a client span.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// Executor runs WebSocket sessions. It holds no per-session state and may
// be shared.
type Executor struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// NewExecutor creates a session executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute connects to url, retrying per policy, then runs every step in
// order. A failed step does not stop the remaining ones. The connection is
// closed before Execute returns.
func (e *Executor) Execute(ctx context.Context, name, url string, headers http.Header, steps []Step, timeout time.Duration, policy retry.Policy) *SessionResult {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	start := time.Now()
	result := &SessionResult{EndpointName: name, URL: url}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, e.tracer, "websocket", name)
		defer func() {
			var err error
			if !result.Passed {
				err = errors.New(strings.Join(result.Errors, "; "))
			}
			tracing.EndSpan(span, err,
				attribute.Bool("websocket.connected", result.Connected),
				attribute.Int("websocket.steps", len(result.Steps)),
			)
		}()
	}

	conn := retry.Do(ctx, policy, func(ctx context.Context, attempt int) retry.Outcome[*Client] {
		client := NewClient(Config{URL: url, Headers: headers, HandshakeTimeout: timeout})
		if err := client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return retry.Stop[*Client](nil, err, "cancelled")
			}
			return retry.Again[*Client](nil, err, err.Error())
		}
		return retry.Succeed(client)
	}, retry.OnRetry(func(attempt int, reason string, wait time.Duration) {
		e.logger.Info("websocket connection failed, retrying",
			zap.String("endpoint", name),
			zap.String("reason", reason),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", policy.MaxRetries),
		)
	}))

	if conn.Verdict != retry.Success || conn.Value == nil {
		result.Errors = []string{fmt.Sprintf("Connection failed: %v", conn.Err)}
		result.Elapsed = time.Since(start)
		result.ElapsedMs = millis(result.Elapsed)
		e.logger.Warn("websocket connection failed",
			zap.String("endpoint", name),
			zap.String("url", url),
			zap.Int("attempts", conn.Retries+1),
			zap.Error(conn.Err),
		)
		return result
	}

	client := conn.Value
	defer client.Close()
	result.Connected = true
	e.logger.Debug("websocket connected", zap.String("endpoint", name), zap.String("url", url))

	result.Steps = make([]StepResult, 0, len(steps))
	for i, step := range steps {
		sr := e.runStep(ctx, client, step)
		result.Steps = append(result.Steps, sr)
		e.logger.Debug("websocket step",
			zap.String("endpoint", name),
			zap.Int("index", i),
			zap.String("action", sr.Action),
			zap.Bool("passed", sr.Passed),
		)
		if !sr.Passed && sr.Error != "" {
			result.Errors = append(result.Errors, sr.Error)
		}
	}

	result.Passed = true
	for _, sr := range result.Steps {
		if !sr.Passed {
			result.Passed = false
			break
		}
	}
	result.Metrics = client.Metrics()
	result.Elapsed = time.Since(start)
	result.ElapsedMs = millis(result.Elapsed)

	if !result.Passed {
		e.logger.Warn("websocket session failed", zap.String("endpoint", name), zap.Strings("errors", result.Errors))
	}
	return result
}

func (e *Executor) runStep(ctx context.Context, c *Client, step Step) StepResult {
	sr := StepResult{Action: step.label(), Passed: true}
	fail := func(msg string) StepResult {
		sr.Passed = false
		sr.Error = msg
		return sr
	}

	switch step.Action {
	case ActionSend:
		payload := textPayload(step.Data)
		sr.Sent = payload
		if err := c.SendMessage(ctx, Message{Type: websocket.TextMessage, Data: []byte(payload)}); err != nil {
			return fail(err.Error())
		}

	case ActionSendJSON:
		data := step.Data
		if data == nil {
			data = map[string]any{}
		}
		sr.Sent = data
		payload, err := json.Marshal(data)
		if err != nil {
			return fail(err.Error())
		}
		if err := c.SendMessage(ctx, Message{Type: websocket.TextMessage, Data: payload}); err != nil {
			return fail(err.Error())
		}

	case ActionSendBinary:
		payload, err := binaryPayload(step.Data)
		if err != nil {
			sr.Sent = step.Data
			return fail(err.Error())
		}
		sr.Sent = fmt.Sprintf("<%d bytes>", len(payload))
		if err := c.SendMessage(ctx, Message{Type: websocket.BinaryMessage, Data: payload}); err != nil {
			return fail(err.Error())
		}

	case ActionReceive:
		msg, err := c.ReceiveMessage(ctx, orDefault(step.Timeout, DefaultReceiveTimeout))
		if err != nil {
			return fail(fmt.Sprintf("Receive failed: %v", err))
		}
		received := string(msg.Data)
		sr.Received = received
		if step.Expected != nil {
			if want := match.Stringify(step.Expected); received != want {
				return fail(fmt.Sprintf("Expected %q, got %q", want, received))
			}
		}

	case ActionReceiveJSON:
		msg, err := c.ReceiveMessage(ctx, orDefault(step.Timeout, DefaultReceiveTimeout))
		if err != nil {
			return fail(fmt.Sprintf("Receive failed: %v", err))
		}
		dec := json.NewDecoder(bytes.NewReader(msg.Data))
		dec.UseNumber()
		var received any
		if err := dec.Decode(&received); err != nil {
			sr.Received = string(msg.Data)
			return fail(fmt.Sprintf("JSON decode error: %v", err))
		}
		sr.Received = received
		if expected, ok := step.Expected.(map[string]any); ok {
			if mismatch := compareKeys(expected, received); mismatch != "" {
				return fail(mismatch)
			}
		}

	case ActionPing:
		payload := textPayload(step.Data)
		sr.Sent = payload
		if err := c.Ping([]byte(payload)); err != nil {
			return fail(err.Error())
		}

	case ActionPong:
		payload := textPayload(step.Data)
		sr.Sent = payload
		if err := c.Pong([]byte(payload)); err != nil {
			return fail(err.Error())
		}

	case ActionWait:
		d := orDefault(step.Timeout, DefaultWait)
		sr.Sent = fmt.Sprintf("%gs", d.Seconds())
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}

	default:
		return fail(fmt.Sprintf("Unknown action: %s", step.label()))
	}
	return sr
}

// compareKeys checks the listed keys only, stopping at the first mismatch.
// Keys are checked in sorted order. An absent key compares as null.
func compareKeys(expected map[string]any, received any) string {
	obj, _ := received.(map[string]any)
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		actual, ok := obj[k]
		if match.Equal(expected[k], actual) {
			continue
		}
		got := "<missing>"
		if ok {
			got = match.Format(actual)
		}
		return fmt.Sprintf("Key '%s': expected %s, got %s", k, match.Format(expected[k]), got)
	}
	return ""
}

func textPayload(v any) string {
	if v == nil {
		return ""
	}
	return match.Stringify(v)
}

func binaryPayload(v any) ([]byte, error) {
	switch data := v.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(data), nil
	case []byte:
		return data, nil
	case []any:
		out := make([]byte, len(data))
		for i, item := range data {
			n, ok := byteValue(item)
			if !ok {
				return nil, fmt.Errorf("binary payload element %d: %v is not a byte", i, item)
			}
			out[i] = n
		}
		return out, nil
	case []int:
		out := make([]byte, len(data))
		for i, n := range data {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("binary payload element %d: %d is not a byte", i, n)
			}
			out[i] = byte(n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported binary payload %T", v)
}

func byteValue(v any) (byte, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > 255 {
			return 0, false
		}
		n = int64(x)
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n < 0 || n > 255 {
		return 0, false
	}
	return byte(n), true
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
