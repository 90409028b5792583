package auth

import (
	"context"
	"net/http"
)

// StaticTokenProvider returns a pre-configured bearer token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a new static token provider with the given token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Headers returns an Authorization bearer header without any network calls.
func (p *StaticTokenProvider) Headers(ctx context.Context) (http.Header, error) {
	return bearer(p.token), nil
}

// Close is a no-op for static token providers.
func (p *StaticTokenProvider) Close() error {
	return nil
}

// APIKeyProvider sends a fixed key in a named header.
type APIKeyProvider struct {
	header string
	value  string
}

// NewAPIKeyProvider creates an API key provider. An empty header name
// falls back to X-API-Key.
func NewAPIKeyProvider(header, value string) *APIKeyProvider {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyProvider{header: header, value: value}
}

// Headers returns the API key header.
func (p *APIKeyProvider) Headers(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set(p.header, p.value)
	return h, nil
}

// Close is a no-op.
func (p *APIKeyProvider) Close() error {
	return nil
}
