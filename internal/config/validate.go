package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/torosent/apiprobe/internal/auth"
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Validate reports every structural problem in the definition at once.
// Unknown WebSocket actions are not reported here; they fail at run time.
func (d *Definition) Validate() error {
	var issues []string

	if strings.TrimSpace(d.Name) == "" {
		issues = append(issues, "name is required")
	}
	issues = append(issues, validateBaseURL(d.BaseURL)...)
	if d.Auth != nil {
		issues = append(issues, validateAuth(d)...)
	}

	names := map[string]bool{}
	for i, ep := range d.HTTPEndpoints {
		label := fmt.Sprintf("http_endpoints[%d]", i)
		if ep.Name == "" {
			issues = append(issues, label+": name is required")
		} else if names[ep.Name] {
			issues = append(issues, fmt.Sprintf("%s: duplicate endpoint name %q", label, ep.Name))
		}
		names[ep.Name] = true
		if ep.Path == "" {
			issues = append(issues, label+": url is required")
		}
		if !allowedMethods[ep.Method] {
			issues = append(issues, fmt.Sprintf("%s: method %q is not supported", label, ep.Method))
		}
		if ep.ExpectedStatus < 100 || ep.ExpectedStatus > 599 {
			issues = append(issues, fmt.Sprintf("%s: expected_status %d is not a valid HTTP status", label, ep.ExpectedStatus))
		}
		if ep.Timeout < 0 {
			issues = append(issues, label+": timeout must be >= 0")
		}
		issues = append(issues, validateRetry(label, ep.Retry.MaxRetries)...)
	}

	wsNames := map[string]bool{}
	for i, ep := range d.WSSEndpoints {
		label := fmt.Sprintf("wss_endpoints[%d]", i)
		if ep.Name == "" {
			issues = append(issues, label+": name is required")
		} else if wsNames[ep.Name] {
			issues = append(issues, fmt.Sprintf("%s: duplicate endpoint name %q", label, ep.Name))
		}
		wsNames[ep.Name] = true
		if u, err := url.Parse(ep.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			issues = append(issues, fmt.Sprintf("%s: url %q must use ws:// or wss://", label, ep.URL))
		}
		issues = append(issues, validateRetry(label, ep.Retry.MaxRetries)...)
	}

	for i, sc := range d.Scenarios {
		label := fmt.Sprintf("scenarios[%d]", i)
		if sc.Name == "" {
			issues = append(issues, label+": name is required")
		}
		if len(sc.Steps) == 0 {
			issues = append(issues, label+": at least one step is required")
		}
		phases := []struct {
			name  string
			steps []ScenarioStep
		}{{"setup", sc.Setup}, {"steps", sc.Steps}, {"teardown", sc.Teardown}}
		for _, phase := range phases {
			for j, st := range phase.steps {
				if _, ok := d.HTTPEndpoint(st.EndpointRef); !ok {
					issues = append(issues, fmt.Sprintf("%s.%s[%d]: endpoint_ref %q does not name an HTTP endpoint", label, phase.name, j, st.EndpointRef))
				}
				for k, rule := range st.Extract {
					if rule.Variable == "" || (rule.JSONPath == "") == (rule.Regex == "") {
						issues = append(issues, fmt.Sprintf("%s.%s[%d].extract[%d]: needs var and exactly one of jsonpath or regex", label, phase.name, j, k))
					}
				}
			}
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateBaseURL(raw string) []string {
	if raw == "" {
		return []string{"base_url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return []string{fmt.Sprintf("base_url %q must be an absolute http(s) URL", raw)}
	}
	return nil
}

func validateAuth(d *Definition) []string {
	a := d.Auth
	switch a.Kind {
	case auth.KindBearer:
		if a.Token == "" {
			return []string{"auth: bearer requires token"}
		}
	case auth.KindAPIKey:
		if a.APIKeyValue == "" {
			return []string{"auth: api_key requires api_key_value"}
		}
	case auth.KindOAuth2ClientCredentials, auth.KindOAuth2Password:
		if a.TokenURL == "" {
			return []string{fmt.Sprintf("auth: %s requires token_url", a.Kind)}
		}
	}
	return nil
}

func validateRetry(label string, maxRetries int) []string {
	if maxRetries < 0 {
		return []string{label + ": retry.max_retries must be >= 0"}
	}
	return nil
}
