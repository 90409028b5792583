package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/apiprobe/internal/auth"
	"github.com/torosent/apiprobe/internal/extractor"
	"github.com/torosent/apiprobe/internal/httpclient"
	"github.com/torosent/apiprobe/internal/match"
	"github.com/torosent/apiprobe/internal/retry"
	"github.com/torosent/apiprobe/internal/websocket"
)

// Endpoint defaults applied when a definition leaves a field out.
const (
	DefaultMethod         = http.MethodGet
	DefaultContentType    = "application/json"
	DefaultExpectedStatus = http.StatusOK
	DefaultTimeout        = 30 * time.Second
)

// ErrUnsupportedDefinition is returned for files that are neither YAML nor JSON.
var ErrUnsupportedDefinition = errors.New("unsupported definition format")

// Definition is one parsed API definition file.
type Definition struct {
	Name           string
	BaseURL        string
	Description    string
	DefaultHeaders map[string]string
	TestDataFile   string
	// Auth is nil when the file has no auth section.
	Auth *auth.State
	// Retry is the definition-wide policy; nil when the file has none.
	Retry         *retry.Policy
	HTTPEndpoints []HTTPEndpoint
	WSSEndpoints  []WSSEndpoint
	Scenarios     []Scenario
	// Source is the file the definition was read from.
	Source string
}

// HTTPEndpoint describes one HTTP call and the response it must produce.
type HTTPEndpoint struct {
	Name string
	// Path is appended to the definition's base URL.
	Path            string
	Method          string
	Headers         map[string]string // already merged over default_headers
	QueryParams     map[string]any
	Body            any
	ContentType     string
	ExpectedStatus  int
	ExpectedBody    match.Tree
	ExpectedHeaders match.Tree
	MaxResponseTime time.Duration
	Timeout         time.Duration
	Tags            []string
	Retry           retry.Policy
	UploadFiles     map[string]string
	FollowRedirects bool
}

// CallSpec converts the endpoint into executor input.
func (e HTTPEndpoint) CallSpec() httpclient.CallSpec {
	return httpclient.CallSpec{
		Name:            e.Name,
		Path:            e.Path,
		Method:          e.Method,
		Headers:         copyStringMap(e.Headers),
		Query:           copyAnyMap(e.QueryParams),
		Body:            e.Body,
		ContentType:     e.ContentType,
		ExpectedStatus:  e.ExpectedStatus,
		ExpectedBody:    e.ExpectedBody,
		ExpectedHeaders: e.ExpectedHeaders,
		MaxResponseTime: e.MaxResponseTime,
		Timeout:         e.Timeout,
		Retry:           e.Retry,
		UploadFiles:     e.UploadFiles,
		FollowRedirects: e.FollowRedirects,
	}
}

// WSSEndpoint describes one WebSocket session.
type WSSEndpoint struct {
	Name    string
	URL     string
	Headers map[string]string
	Steps   []websocket.Step
	// Timeout bounds the connection handshake.
	Timeout time.Duration
	Tags    []string
	Retry   retry.Policy
}

// Scenario is an ordered chain of HTTP endpoint calls sharing variables.
type Scenario struct {
	Name     string
	Setup    []ScenarioStep
	Steps    []ScenarioStep
	Teardown []ScenarioStep
	Tags     []string
}

// ScenarioStep references an HTTP endpoint by name and adjusts the call.
type ScenarioStep struct {
	Name        string
	EndpointRef string
	// Save maps a variable name to a dot path in the decoded response body.
	Save map[string]string
	// Extract runs JSON path and regex rules over the raw response body.
	Extract         []extractor.Rule
	OverrideBody    any
	OverrideParams  map[string]any
	OverrideHeaders map[string]string
}

// HTTPEndpoint returns the HTTP endpoint with the given name.
func (d *Definition) HTTPEndpoint(name string) (HTTPEndpoint, bool) {
	for _, ep := range d.HTTPEndpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return HTTPEndpoint{}, false
}

// AuthState returns the auth configuration, defaulting to none.
func (d *Definition) AuthState() auth.State {
	if d.Auth == nil {
		return auth.State{}
	}
	return *d.Auth
}

// LoadDefinitions loads every path, expanding directories with LoadDir.
func LoadDefinitions(paths []string) ([]*Definition, error) {
	var defs []*Definition
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			dirDefs, err := LoadDir(p)
			if err != nil {
				return nil, err
			}
			defs = append(defs, dirDefs...)
			continue
		}
		def, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDir parses every .yaml, .yml and .json file in dir, in name order.
// Subdirectories are not searched.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isDefinitionFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile parses a YAML or JSON definition file. Environment references
// are expanded before any field is interpreted.
func LoadFile(path string) (*Definition, error) {
	if !isDefinitionFile(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedDefinition)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// ParseDefinition parses definition content. JSON is accepted as a subset
// of YAML.
func ParseDefinition(data []byte) (*Definition, error) {
	return parseDefinition(data, os.LookupEnv)
}

func parseDefinition(data []byte, lookup func(string) (string, bool)) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	root, ok := resolveTree(raw, lookup).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("definition must be a mapping, got %T", raw)
	}
	return buildDefinition(root)
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func buildDefinition(settings map[string]any) (*Definition, error) {
	def := &Definition{}
	var err error

	if def.Name, err = stringSetting(settings, "name"); err != nil {
		return nil, err
	}
	if def.BaseURL, err = stringSetting(settings, "base_url"); err != nil {
		return nil, err
	}
	def.BaseURL = strings.TrimSpace(def.BaseURL)
	if def.Description, err = stringSetting(settings, "description"); err != nil {
		return nil, err
	}
	if def.TestDataFile, err = stringSetting(settings, "test_data_file"); err != nil {
		return nil, err
	}
	if raw, ok := settings["default_headers"]; ok {
		if def.DefaultHeaders, err = asStringMap(raw); err != nil {
			return nil, fmt.Errorf("default_headers: %w", err)
		}
	}
	if raw, ok := settings["auth"]; ok && raw != nil {
		state, err := parseAuth(raw)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		def.Auth = &state
	}
	if raw, ok := settings["retry"]; ok && raw != nil {
		policy, err := parseRetry(raw)
		if err != nil {
			return nil, fmt.Errorf("retry: %w", err)
		}
		def.Retry = &policy
	}

	fallback := retry.DefaultPolicy()
	if def.Retry != nil {
		fallback = *def.Retry
	}

	key := "http_endpoints"
	if _, ok := settings[key]; !ok {
		key = "endpoints"
	}
	items, err := toInterfaceSlice(settings[key])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	for i, item := range items {
		ep, err := parseHTTPEndpoint(item, def.DefaultHeaders, fallback)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		def.HTTPEndpoints = append(def.HTTPEndpoints, ep)
	}

	items, err = toInterfaceSlice(settings["wss_endpoints"])
	if err != nil {
		return nil, fmt.Errorf("wss_endpoints: %w", err)
	}
	for i, item := range items {
		ep, err := parseWSSEndpoint(item, def.DefaultHeaders, fallback)
		if err != nil {
			return nil, fmt.Errorf("wss_endpoints[%d]: %w", i, err)
		}
		def.WSSEndpoints = append(def.WSSEndpoints, ep)
	}

	items, err = toInterfaceSlice(settings["scenarios"])
	if err != nil {
		return nil, fmt.Errorf("scenarios: %w", err)
	}
	for i, item := range items {
		sc, err := parseScenario(item)
		if err != nil {
			return nil, fmt.Errorf("scenarios[%d]: %w", i, err)
		}
		def.Scenarios = append(def.Scenarios, sc)
	}
	return def, nil
}

func parseHTTPEndpoint(value any, defaultHeaders map[string]string, fallback retry.Policy) (HTTPEndpoint, error) {
	settings, err := asAnyMap(value)
	if err != nil {
		return HTTPEndpoint{}, err
	}
	ep := HTTPEndpoint{
		Method:          DefaultMethod,
		ContentType:     DefaultContentType,
		ExpectedStatus:  DefaultExpectedStatus,
		Timeout:         DefaultTimeout,
		Retry:           fallback,
		FollowRedirects: true,
	}

	if ep.Name, err = stringSetting(settings, "name"); err != nil {
		return ep, err
	}
	if ep.Path, err = stringSetting(settings, "url"); err != nil {
		return ep, err
	}
	if raw, ok := settings["method"]; ok && raw != nil {
		val, _ := asString(raw)
		ep.Method = strings.ToUpper(strings.TrimSpace(val))
	}
	if ep.Headers, err = mergedHeaders(defaultHeaders, settings["headers"]); err != nil {
		return ep, fmt.Errorf("headers: %w", err)
	}
	if raw, ok := settings["query_params"]; ok && raw != nil {
		if ep.QueryParams, err = asAnyMap(raw); err != nil {
			return ep, fmt.Errorf("query_params: %w", err)
		}
	}
	ep.Body = settings["body"]
	if raw, ok := settings["content_type"]; ok && raw != nil {
		ep.ContentType, _ = asString(raw)
	}
	if raw, ok := settings["expected_status"]; ok && raw != nil {
		if ep.ExpectedStatus, err = asInt(raw); err != nil {
			return ep, fmt.Errorf("expected_status: %w", err)
		}
	}
	if raw, ok := settings["expected_body"]; ok && raw != nil {
		tree, err := asAnyMap(raw)
		if err != nil {
			return ep, fmt.Errorf("expected_body: %w", err)
		}
		ep.ExpectedBody = match.Decode(tree)
	}
	if raw, ok := settings["expected_headers"]; ok && raw != nil {
		tree, err := asAnyMap(raw)
		if err != nil {
			return ep, fmt.Errorf("expected_headers: %w", err)
		}
		ep.ExpectedHeaders = match.Decode(tree)
	}
	if raw, ok := settings["max_response_time"]; ok && raw != nil {
		ms, err := asFloat64(raw)
		if err != nil {
			return ep, fmt.Errorf("max_response_time: %w", err)
		}
		ep.MaxResponseTime = time.Duration(ms * float64(time.Millisecond))
	}
	if raw, ok := settings["timeout"]; ok && raw != nil {
		if ep.Timeout, err = asDuration(raw); err != nil {
			return ep, fmt.Errorf("timeout: %w", err)
		}
	}
	if ep.Tags, err = asStringSlice(settings["tags"]); err != nil {
		return ep, fmt.Errorf("tags: %w", err)
	}
	if raw, ok := settings["retry"]; ok && raw != nil {
		if ep.Retry, err = parseRetry(raw); err != nil {
			return ep, fmt.Errorf("retry: %w", err)
		}
	}
	if raw, ok := settings["upload_files"]; ok && raw != nil {
		if ep.UploadFiles, err = asStringMap(raw); err != nil {
			return ep, fmt.Errorf("upload_files: %w", err)
		}
	}
	if raw, ok := settings["allow_redirects"]; ok && raw != nil {
		if ep.FollowRedirects, err = asBool(raw); err != nil {
			return ep, fmt.Errorf("allow_redirects: %w", err)
		}
	}
	return ep, nil
}

func parseWSSEndpoint(value any, defaultHeaders map[string]string, fallback retry.Policy) (WSSEndpoint, error) {
	settings, err := asAnyMap(value)
	if err != nil {
		return WSSEndpoint{}, err
	}
	ep := WSSEndpoint{
		Timeout: websocket.DefaultConnectTimeout,
		Retry:   fallback,
	}
	if ep.Name, err = stringSetting(settings, "name"); err != nil {
		return ep, err
	}
	if ep.URL, err = stringSetting(settings, "url"); err != nil {
		return ep, err
	}
	if ep.Headers, err = mergedHeaders(defaultHeaders, settings["headers"]); err != nil {
		return ep, fmt.Errorf("headers: %w", err)
	}
	if raw, ok := settings["timeout"]; ok && raw != nil {
		if ep.Timeout, err = asDuration(raw); err != nil {
			return ep, fmt.Errorf("timeout: %w", err)
		}
	}
	if ep.Tags, err = asStringSlice(settings["tags"]); err != nil {
		return ep, fmt.Errorf("tags: %w", err)
	}
	if raw, ok := settings["retry"]; ok && raw != nil {
		if ep.Retry, err = parseRetry(raw); err != nil {
			return ep, fmt.Errorf("retry: %w", err)
		}
	}

	messages, err := toInterfaceSlice(settings["messages"])
	if err != nil {
		return ep, fmt.Errorf("messages: %w", err)
	}
	for i, item := range messages {
		msg, err := asAnyMap(item)
		if err != nil {
			return ep, fmt.Errorf("messages[%d]: %w", i, err)
		}
		action, err := stringSetting(msg, "action")
		if err != nil {
			return ep, fmt.Errorf("messages[%d]: %w", i, err)
		}
		var timeout time.Duration
		if raw, ok := msg["timeout"]; ok && raw != nil {
			if timeout, err = asDuration(raw); err != nil {
				return ep, fmt.Errorf("messages[%d].timeout: %w", i, err)
			}
		}
		ep.Steps = append(ep.Steps, websocket.NewStep(action, msg["data"], timeout, msg["expected"]))
	}
	return ep, nil
}

func parseScenario(value any) (Scenario, error) {
	settings, err := asAnyMap(value)
	if err != nil {
		return Scenario{}, err
	}
	var sc Scenario
	if sc.Name, err = stringSetting(settings, "name"); err != nil {
		return sc, err
	}
	if sc.Tags, err = asStringSlice(settings["tags"]); err != nil {
		return sc, fmt.Errorf("tags: %w", err)
	}
	if sc.Setup, err = parseScenarioSteps(settings["setup"]); err != nil {
		return sc, fmt.Errorf("setup: %w", err)
	}
	if sc.Steps, err = parseScenarioSteps(settings["steps"]); err != nil {
		return sc, fmt.Errorf("steps: %w", err)
	}
	if sc.Teardown, err = parseScenarioSteps(settings["teardown"]); err != nil {
		return sc, fmt.Errorf("teardown: %w", err)
	}
	return sc, nil
}

func parseScenarioSteps(value any) ([]ScenarioStep, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	steps := make([]ScenarioStep, 0, len(items))
	for i, item := range items {
		settings, err := asAnyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		var st ScenarioStep
		if st.Name, err = stringSetting(settings, "name"); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		if st.EndpointRef, err = stringSetting(settings, "endpoint_ref"); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		if raw, ok := settings["save"]; ok && raw != nil {
			if st.Save, err = asStringMap(raw); err != nil {
				return nil, fmt.Errorf("index %d: save: %w", i, err)
			}
		}
		if st.Extract, err = parseExtractors(settings["extract"]); err != nil {
			return nil, fmt.Errorf("index %d: extract: %w", i, err)
		}
		st.OverrideBody = settings["override_body"]
		if raw, ok := settings["override_params"]; ok && raw != nil {
			if st.OverrideParams, err = asAnyMap(raw); err != nil {
				return nil, fmt.Errorf("index %d: override_params: %w", i, err)
			}
		}
		if raw, ok := settings["override_headers"]; ok && raw != nil {
			if st.OverrideHeaders, err = asStringMap(raw); err != nil {
				return nil, fmt.Errorf("index %d: override_headers: %w", i, err)
			}
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func parseExtractors(value any) ([]extractor.Rule, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	rules := make([]extractor.Rule, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		rule, err := buildExtractor(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func buildExtractor(settings map[string]interface{}) (extractor.Rule, error) {
	var rule extractor.Rule
	if raw, ok := lookupSetting(settings, "jsonpath", "json_path"); ok {
		val, err := asString(raw)
		if err != nil {
			return rule, fmt.Errorf("jsonpath: %w", err)
		}
		rule.JSONPath = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "regex"); ok {
		val, err := asString(raw)
		if err != nil {
			return rule, fmt.Errorf("regex: %w", err)
		}
		rule.Regex = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "var", "variable"); ok {
		val, err := asString(raw)
		if err != nil {
			return rule, fmt.Errorf("var: %w", err)
		}
		rule.Variable = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "onerror", "on_error", "on-error"); ok {
		val, err := asBool(raw)
		if err != nil {
			return rule, fmt.Errorf("on_error: %w", err)
		}
		rule.OnError = val
	}
	return rule, nil
}

func parseAuth(value any) (auth.State, error) {
	settings, err := asAnyMap(value)
	if err != nil {
		return auth.State{}, err
	}
	state := auth.State{
		APIKeyHeader: auth.DefaultAPIKeyHeader,
		LoginPath:    auth.DefaultLoginPath,
		LoginMethod:  auth.DefaultLoginMethod,
		TokenPath:    auth.DefaultTokenPath,
	}

	kind, err := stringSetting(settings, "type")
	if err != nil {
		return state, err
	}
	if state.Kind, err = auth.ParseKind(kind); err != nil {
		return state, err
	}

	fields := []struct {
		key  string
		dest *string
	}{
		{"token", &state.Token},
		{"api_key_header", &state.APIKeyHeader},
		{"api_key_value", &state.APIKeyValue},
		{"login_url", &state.LoginPath},
		{"login_method", &state.LoginMethod},
		{"token_json_path", &state.TokenPath},
		{"token_url", &state.TokenURL},
		{"client_id", &state.ClientID},
		{"client_secret", &state.ClientSecret},
		{"username", &state.Username},
		{"password", &state.Password},
	}
	for _, f := range fields {
		raw, ok := settings[f.key]
		if !ok || raw == nil {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return state, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dest = val
	}
	state.LoginMethod = strings.ToUpper(state.LoginMethod)
	state.LoginBody = settings["login_body"]
	if state.Scopes, err = asStringSlice(settings["scopes"]); err != nil {
		return state, fmt.Errorf("scopes: %w", err)
	}
	return state, nil
}

func parseRetry(value any) (retry.Policy, error) {
	settings, err := asAnyMap(value)
	if err != nil {
		return retry.Policy{}, err
	}
	policy := retry.DefaultPolicy()

	if raw, ok := settings["max_retries"]; ok && raw != nil {
		if policy.MaxRetries, err = asInt(raw); err != nil {
			return policy, fmt.Errorf("max_retries: %w", err)
		}
	}
	if raw, ok := settings["backoff"]; ok && raw != nil {
		items, err := toInterfaceSlice(raw)
		if err != nil {
			return policy, fmt.Errorf("backoff: %w", err)
		}
		policy.Backoff = make([]time.Duration, 0, len(items))
		for i, item := range items {
			d, err := asDuration(item)
			if err != nil {
				return policy, fmt.Errorf("backoff[%d]: %w", i, err)
			}
			policy.Backoff = append(policy.Backoff, d)
		}
	}
	if raw, ok := settings["retry_on_status"]; ok && raw != nil {
		items, err := toInterfaceSlice(raw)
		if err != nil {
			return policy, fmt.Errorf("retry_on_status: %w", err)
		}
		policy.RetryOnStatus = make([]int, 0, len(items))
		for i, item := range items {
			code, err := asInt(item)
			if err != nil {
				return policy, fmt.Errorf("retry_on_status[%d]: %w", i, err)
			}
			policy.RetryOnStatus = append(policy.RetryOnStatus, code)
		}
	}
	if raw, ok := settings["retry_on_timeout"]; ok && raw != nil {
		if policy.RetryOnTimeout, err = asBool(raw); err != nil {
			return policy, fmt.Errorf("retry_on_timeout: %w", err)
		}
	}
	return policy, nil
}

func stringSetting(settings map[string]any, key string) (string, error) {
	raw, ok := settings[key]
	if !ok || raw == nil {
		return "", nil
	}
	val, err := asString(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return val, nil
}

func mergedHeaders(defaults map[string]string, raw any) (map[string]string, error) {
	own, err := asStringMap(raw)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(defaults)+len(own))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged, nil
}

// asAnyMap returns value as a map without altering key case.
func asAnyMap(value any) (map[string]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[fmt.Sprint(k)] = inner
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
