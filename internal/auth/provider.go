// Package auth resolves an endpoint definition's authentication settings
// into a fixed set of request headers.
//
// Resolution happens once, when an executor is built. Login and OAuth2
// flows perform a network round trip at that point; afterwards the header
// set is read-only.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind selects the authentication scheme.
type Kind int

const (
	KindNone Kind = iota
	KindBearer
	KindAPIKey
	KindLogin
	KindOAuth2ClientCredentials
	KindOAuth2Password
)

// ParseKind maps a definition's auth type to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return KindNone, nil
	case "bearer":
		return KindBearer, nil
	case "api_key", "apikey":
		return KindAPIKey, nil
	case "login":
		return KindLogin, nil
	case "oauth2_client_credentials":
		return KindOAuth2ClientCredentials, nil
	case "oauth2_password", "oauth2_resource_owner":
		return KindOAuth2Password, nil
	}
	return KindNone, fmt.Errorf("unsupported auth type %q", s)
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBearer:
		return "bearer"
	case KindAPIKey:
		return "api_key"
	case KindLogin:
		return "login"
	case KindOAuth2ClientCredentials:
		return "oauth2_client_credentials"
	case KindOAuth2Password:
		return "oauth2_password"
	default:
		return "unknown"
	}
}

const (
	DefaultAPIKeyHeader = "X-API-Key"
	DefaultLoginPath    = "/auth/login"
	DefaultLoginMethod  = http.MethodPost
	DefaultTokenPath    = "token"
	loginTimeout        = 30 * time.Second
)

// State holds the authentication settings of a definition.
type State struct {
	Kind Kind

	Token string

	APIKeyHeader string
	APIKeyValue  string

	LoginPath   string
	LoginMethod string
	LoginBody   any
	TokenPath   string

	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scopes       []string
}

// Provider contributes headers to every request an executor sends.
type Provider interface {
	// Headers returns the headers to install. It may perform network I/O.
	Headers(ctx context.Context) (http.Header, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Env is what providers need from the executor being built.
type Env struct {
	BaseURL     string
	BaseHeaders http.Header
	Client      *http.Client
	Logger      *zap.Logger
}

// NewProvider builds the provider for state. A KindNone state yields nil.
func NewProvider(state State, env Env) (Provider, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	switch state.Kind {
	case KindNone:
		return nil, nil
	case KindBearer:
		return NewStaticTokenProvider(state.Token), nil
	case KindAPIKey:
		return NewAPIKeyProvider(state.APIKeyHeader, state.APIKeyValue), nil
	case KindLogin:
		return NewLoginProvider(state, env), nil
	case KindOAuth2ClientCredentials:
		if state.TokenURL == "" {
			return nil, fmt.Errorf("oauth2 token url is required")
		}
		return NewOAuth2ClientCredentialsProvider(state.TokenURL, state.ClientID, state.ClientSecret, state.Scopes, 0)
	case KindOAuth2Password:
		if state.TokenURL == "" {
			return nil, fmt.Errorf("oauth2 token url is required")
		}
		return NewOAuth2ResourceOwnerProvider(state.TokenURL, state.ClientID, state.ClientSecret, state.Username, state.Password, state.Scopes, 0)
	}
	return nil, fmt.Errorf("unsupported auth kind %d", state.Kind)
}

// Resolve builds the provider for state, asks it for headers once, and
// releases it. The returned header set is never mutated afterwards.
func Resolve(ctx context.Context, state State, env Env) (http.Header, error) {
	p, err := NewProvider(state, env)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return http.Header{}, nil
	}
	defer p.Close()

	h, err := p.Headers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s auth: %w", state.Kind, err)
	}
	if h == nil {
		h = http.Header{}
	}
	return h, nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
