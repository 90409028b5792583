package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/torosent/apiprobe/internal/tracing"
)

// Settings controls one invocation of the runner. Values come from an
// optional settings file and are overridden by command-line flags.
type Settings struct {
	Definitions []string       `mapstructure:"definitions"`
	DataDir     string         `mapstructure:"data_dir"`
	Tags        []string       `mapstructure:"tags"`
	SkipTags    []string       `mapstructure:"skip_tags"`
	Concurrency int            `mapstructure:"concurrency"`
	Rate        int            `mapstructure:"rate"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	FailFast    bool           `mapstructure:"fail_fast"`
	JSONOutput  bool           `mapstructure:"json_output"`
	HTMLOutput  string         `mapstructure:"html_output"`
	LogLevel    string         `mapstructure:"log_level"`
	LogJSON     bool           `mapstructure:"log_json"`
	Tracing     tracing.Config `mapstructure:"tracing"`
	ConfigFile  string         `mapstructure:"-"`
}

// ValidationError collects every problem found by a Validate call.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (s Settings) Validate() error {
	var issues []string

	if len(s.Definitions) == 0 {
		issues = append(issues, "at least one definition file or directory is required")
	}
	for i, d := range s.Definitions {
		if strings.TrimSpace(d) == "" {
			issues = append(issues, fmt.Sprintf("definitions[%d]: path is empty", i))
		}
	}
	if s.Concurrency < 1 {
		issues = append(issues, "concurrency must be at least 1")
	}
	if s.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if s.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, validateTracing(s.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracing(t tracing.Config) []string {
	if !t.Enabled() {
		return nil
	}
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported (use grpc or http)", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0 and 1")
	}
	return issues
}
