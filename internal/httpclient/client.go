package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// NewClient creates an HTTP client with pooled connections. When
// followRedirects is false the client returns 3xx responses as they are.
func NewClient(timeout time.Duration, followRedirects bool) *http.Client {
	return newClient(newTransport(), timeout, followRedirects)
}

func newClient(transport http.RoundTripper, timeout time.Duration, followRedirects bool) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	c := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	if !followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// BuildHeaders canonicalizes and validates header pairs. Keys must be
// non-empty and neither keys nor values may contain CR or LF.
func BuildHeaders(in map[string]string) (http.Header, error) {
	headers := make(http.Header, len(in))
	for key, value := range in {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}
	return headers, nil
}

// mergeHeaders returns base overlaid with override; override wins per key.
func mergeHeaders(base, override http.Header) http.Header {
	out := base.Clone()
	if out == nil {
		out = http.Header{}
	}
	for k, v := range override {
		out[k] = append([]string(nil), v...)
	}
	return out
}
