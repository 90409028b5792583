package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := NewLoader().Load([]string{"defs/users.yaml"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(s.Definitions, []string{"defs/users.yaml"}) {
		t.Errorf("Definitions = %v", s.Definitions)
	}
	if s.Concurrency != 1 || s.Rate != 0 || s.DataDir != DefaultDataDir || s.LogLevel != "info" {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.Tracing.Enabled() || s.Tracing.SampleRate != 1.0 || s.Tracing.Protocol != "grpc" {
		t.Errorf("unexpected tracing defaults: %+v", s.Tracing)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFlags(t *testing.T) {
	args := []string{
		"-c", "4", "--rate", "10", "--timeout", "2m",
		"--tags", "smoke, users", "--skip-tags", "slow",
		"--fail-fast", "--json-output", "--html-output", "report.html", "--log-level", "DEBUG", "--log-json",
		"--data-dir", "fixtures",
		"--tracing-endpoint", "collector:4318", "--tracing-protocol", "http",
		"--tracing-sample-rate", "0.5", "--tracing-propagate=false",
		"a.yaml", "dir",
	}
	s, err := NewLoader().Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Concurrency != 4 || s.Rate != 10 || s.Timeout != 2*time.Minute {
		t.Errorf("execution flags not applied: %+v", s)
	}
	if !reflect.DeepEqual(s.Tags, []string{"smoke", "users"}) || !reflect.DeepEqual(s.SkipTags, []string{"slow"}) {
		t.Errorf("tags = %v skip = %v", s.Tags, s.SkipTags)
	}
	if !s.FailFast || !s.JSONOutput || !s.LogJSON || s.LogLevel != "debug" || s.DataDir != "fixtures" || s.HTMLOutput != "report.html" {
		t.Errorf("output flags not applied: %+v", s)
	}
	if !reflect.DeepEqual(s.Definitions, []string{"a.yaml", "dir"}) {
		t.Errorf("Definitions = %v", s.Definitions)
	}
	tr := s.Tracing
	if !tr.Enabled() || tr.Protocol != "http" || tr.SampleRate != 0.5 || tr.ShouldPropagate() {
		t.Errorf("tracing = %+v", tr)
	}
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "apiprobe.yaml", `
definitions:
  - api_definitions
data_dir: data
tags: [smoke]
concurrency: 3
rate: 5
timeout: 90
fail_fast: true
html_output: out/report.html
log_level: warn
tracing:
  enabled: true
  service_name: suite
  sample_rate: 0.25
  insecure: true
`)

	s, err := NewLoader().Load([]string{"--config", path, "--concurrency", "8"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(s.Definitions, []string{"api_definitions"}) {
		t.Errorf("Definitions = %v", s.Definitions)
	}
	if s.Concurrency != 8 {
		t.Errorf("flag should override file: concurrency = %d", s.Concurrency)
	}
	if s.Rate != 5 || s.Timeout != 90*time.Second || !s.FailFast || s.LogLevel != "warn" || s.DataDir != "data" || s.HTMLOutput != "out/report.html" {
		t.Errorf("file settings not applied: %+v", s)
	}
	if !reflect.DeepEqual(s.Tags, []string{"smoke"}) {
		t.Errorf("Tags = %v", s.Tags)
	}
	if !s.Tracing.Enabled() || s.Tracing.ServiceName != "suite" || s.Tracing.SampleRate != 0.25 || !s.Tracing.Insecure {
		t.Errorf("tracing = %+v", s.Tracing)
	}
	if s.ConfigFile != path {
		t.Errorf("ConfigFile = %q", s.ConfigFile)
	}
}

func TestLoadArgsReplaceFileDefinitions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "settings.json", `{"definitions": ["from_file"]}`)
	s, err := NewLoader().Load([]string{"--config", path, "from_args.yaml"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(s.Definitions, []string{"from_args.yaml"}) {
		t.Errorf("Definitions = %v", s.Definitions)
	}
}

func TestLoadHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"--help"}} {
		if _, err := NewLoader().Load(args); !errors.Is(err, ErrHelpRequested) {
			t.Errorf("Load(%v) error = %v, want ErrHelpRequested", args, err)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := NewLoader().Load([]string{"--concurrency", "many", "a.yaml"}); err == nil {
		t.Error("expected flag parse error")
	}
	if _, err := NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected missing settings file error")
	}
	bad := writeFile(t, t.TempDir(), "bad.yaml", "concurrency: lots\n")
	if _, err := NewLoader().Load([]string{"--config", bad}); err == nil {
		t.Error("expected invalid concurrency error")
	}
}

func TestSettingsValidate(t *testing.T) {
	s := Settings{
		Concurrency: 0,
		Rate:        -1,
		LogLevel:    "loud",
	}
	s.Tracing.Endpoint = "collector:4317"
	s.Tracing.Protocol = "zipkin"
	s.Tracing.SampleRate = 3

	err := s.Validate()
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}
	if got := len(verr.Issues()); got != 6 {
		t.Errorf("got %d issues, want 6: %v", got, verr.Issues())
	}
}
