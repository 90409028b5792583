// Package httpclient executes endpoint calls and validates their responses.
//
// An [Executor] is bound to one base URL. Default headers and resolved
// authentication are fixed when it is built:
//
//	exec, err := httpclient.NewExecutor(ctx, "https://api.example.com", headers, authState,
//		httpclient.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer exec.Close()
//
// Each [Executor.Execute] call issues one request, retrying per the call's
// retry policy on retryable statuses, timeouts and transport errors. The
// response is decoded as JSON when possible and checked against the expected
// status, body tree, header tree and response-time ceiling:
//
//	res, err := exec.Execute(ctx, httpclient.CallSpec{
//		Name:           "create user",
//		Path:           "/users",
//		Method:         http.MethodPost,
//		Body:           map[string]any{"name": "Alice"},
//		ContentType:    "application/json",
//		ExpectedStatus: http.StatusCreated,
//		ExpectedBody:   match.Decode(map[string]any{"id": "type:int"}),
//	})
//
// Transport failures never surface as errors; they end up in
// [CallResult.Errors] with StatusCode 0. The only returned error is a
// [*ResourceError] for an upload file that cannot be read.
//
// # Integration
//
// This package integrates with:
//   - [github.com/torosent/apiprobe/internal/auth] for authentication
//   - [github.com/torosent/apiprobe/internal/match] for body and header checks
//   - [github.com/torosent/apiprobe/internal/retry] for the attempt loop
//   - [github.com/torosent/apiprobe/internal/tracing] for client spans
package httpclient
