package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenSource fetches and caches OAuth2 access tokens for one grant.
type tokenSource struct {
	tokenURL            string
	clientID            string
	clientSecret        string
	grant               url.Values
	refreshBeforeExpiry time.Duration
	httpClient          *http.Client
	mu                  sync.Mutex
	cachedToken         string
	tokenExpiry         time.Time
	fetchInProgress     bool
	fetchCond           *sync.Cond
}

type oauth2TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

func newTokenSource(tokenURL, clientID, clientSecret string, grant url.Values, scopes []string, refreshBeforeExpiry time.Duration) *tokenSource {
	if len(scopes) > 0 {
		grant.Set("scope", strings.Join(scopes, " "))
	}
	s := &tokenSource{
		tokenURL:            tokenURL,
		clientID:            clientID,
		clientSecret:        clientSecret,
		grant:               grant,
		refreshBeforeExpiry: refreshBeforeExpiry,
		httpClient:          &http.Client{Timeout: loginTimeout},
	}
	s.fetchCond = sync.NewCond(&s.mu)
	return s
}

// Token returns a valid access token, using the cache when possible.
// Concurrent callers share a single in-flight fetch.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.cachedToken, nil
	}

	for s.fetchInProgress {
		s.fetchCond.Wait()
		if s.cachedToken != "" && time.Now().Before(s.tokenExpiry) {
			return s.cachedToken, nil
		}
	}

	s.fetchInProgress = true
	s.mu.Unlock()

	token, expiresIn, err := s.fetchToken(ctx)

	s.mu.Lock()
	s.fetchInProgress = false
	s.fetchCond.Broadcast()

	if err != nil {
		return "", err
	}

	s.cachedToken = token
	s.tokenExpiry = time.Now().Add(time.Duration(expiresIn)*time.Second - s.refreshBeforeExpiry)
	return s.cachedToken, nil
}

func (s *tokenSource) fetchToken(ctx context.Context) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(s.grant.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp oauth2TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("no access token in response")
	}
	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

func (s *tokenSource) Headers(ctx context.Context) (http.Header, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return bearer(token), nil
}

func (s *tokenSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// OAuth2ClientCredentialsProvider implements the OAuth2 client credentials flow.
type OAuth2ClientCredentialsProvider struct {
	*tokenSource
}

// NewOAuth2ClientCredentialsProvider creates a new OAuth2 client credentials provider.
func NewOAuth2ClientCredentialsProvider(
	tokenURL string,
	clientID string,
	clientSecret string,
	scopes []string,
	refreshBeforeExpiry time.Duration,
) (*OAuth2ClientCredentialsProvider, error) {
	grant := url.Values{}
	grant.Set("grant_type", "client_credentials")
	return &OAuth2ClientCredentialsProvider{
		tokenSource: newTokenSource(tokenURL, clientID, clientSecret, grant, scopes, refreshBeforeExpiry),
	}, nil
}

// OAuth2ResourceOwnerProvider implements the OAuth2 resource owner password credentials flow.
type OAuth2ResourceOwnerProvider struct {
	*tokenSource
}

// NewOAuth2ResourceOwnerProvider creates a new OAuth2 resource owner password credentials provider.
func NewOAuth2ResourceOwnerProvider(
	tokenURL string,
	clientID string,
	clientSecret string,
	username string,
	password string,
	scopes []string,
	refreshBeforeExpiry time.Duration,
) (*OAuth2ResourceOwnerProvider, error) {
	grant := url.Values{}
	grant.Set("grant_type", "password")
	grant.Set("username", username)
	grant.Set("password", password)
	return &OAuth2ResourceOwnerProvider{
		tokenSource: newTokenSource(tokenURL, clientID, clientSecret, grant, scopes, refreshBeforeExpiry),
	}, nil
}
