package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/apiprobe/internal/extractor"
	"github.com/torosent/apiprobe/internal/match"
)

// LoginProvider obtains a bearer token by calling a login endpoint of the
// service under test.
type LoginProvider struct {
	url         string
	method      string
	body        any
	tokenPath   string
	baseHeaders http.Header
	client      *http.Client
	logger      *zap.Logger
}

// NewLoginProvider creates a login provider for state. Unset fields take
// the package defaults.
func NewLoginProvider(state State, env Env) *LoginProvider {
	path := state.LoginPath
	if path == "" {
		path = DefaultLoginPath
	}
	method := strings.ToUpper(state.LoginMethod)
	if method == "" {
		method = DefaultLoginMethod
	}
	tokenPath := state.TokenPath
	if tokenPath == "" {
		tokenPath = DefaultTokenPath
	}
	client := env.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginProvider{
		url:         strings.TrimRight(env.BaseURL, "/") + path,
		method:      method,
		body:        state.LoginBody,
		tokenPath:   tokenPath,
		baseHeaders: env.BaseHeaders,
		client:      client,
		logger:      logger,
	}
}

// Headers performs the login call. A non-2xx response is an error. A
// response without a token at the configured path yields no headers and a
// warning; callers proceed unauthenticated.
func (p *LoginProvider) Headers(ctx context.Context) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	var body io.Reader
	if p.body != nil {
		payload, err := json.Marshal(p.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode login body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, p.method, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	for k, v := range p.baseHeaders {
		req.Header[k] = append([]string(nil), v...)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	token, ok := extractor.ExtractPath(data, p.tokenPath)
	if !ok || !present(token) {
		p.logger.Warn("login response did not contain token", zap.String("path", p.tokenPath))
		return http.Header{}, nil
	}

	p.logger.Info("login successful, token acquired", zap.String("url", p.url))
	return bearer(match.Stringify(token)), nil
}

// Close is a no-op; the client belongs to the executor.
func (p *LoginProvider) Close() error {
	return nil
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	}
	return true
}
