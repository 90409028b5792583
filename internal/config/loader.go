package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/torosent/apiprobe/internal/tracing"
)

// Loader handles loading settings from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new settings Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the settings file. Positional
// arguments name definition files or directories.
func (l Loader) Load(args []string) (*Settings, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	// If no arguments provided and no config file, show help/usage
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	return l.FromFlags(flagSet, flagSet.Args())
}

// FromFlags builds settings from an already parsed flag set, as handed to a
// cobra command's RunE. Definitions given as args replace those listed in
// the settings file.
func (Loader) FromFlags(flagSet *pflag.FlagSet, args []string) (*Settings, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	s := &Settings{
		DataDir:     DefaultDataDir,
		Concurrency: 1,
		LogLevel:    DefaultLogLevel,
		ConfigFile:  configPath,
		Tracing: tracing.Config{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}

	if err := applySettings(s, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(s, flagSet); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		s.Definitions = append([]string(nil), args...)
	}
	return s, nil
}

// applySettings applies values from a settings file.
func applySettings(s *Settings, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "definitions"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("definitions: %w", err)
		}
		s.Definitions = val
	}
	if raw, ok := lookupSetting(settings, "data_dir", "dataDir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("data_dir: %w", err)
		}
		s.DataDir = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "tags"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("tags: %w", err)
		}
		s.Tags = normalizeTags(val)
	}
	if raw, ok := lookupSetting(settings, "skip_tags", "skipTags"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("skip_tags: %w", err)
		}
		s.SkipTags = normalizeTags(val)
	}
	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		s.Concurrency = val
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		s.Rate = val
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		s.Timeout = val
	}
	if raw, ok := lookupSetting(settings, "fail_fast", "failFast"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("fail_fast: %w", err)
		}
		s.FailFast = val
	}
	if raw, ok := lookupSetting(settings, "json_output", "jsonOutput"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		s.JSONOutput = val
	}
	if raw, ok := lookupSetting(settings, "html_output", "htmlOutput"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("html_output: %w", err)
		}
		s.HTMLOutput = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "log_level", "logLevel"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		s.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "log_json", "logJSON"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("log_json: %w", err)
		}
		s.LogJSON = val
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok && raw != nil {
		tracingMap, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracingSettings(&s.Tracing, tracingMap); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyTracingSettings(t *tracing.Config, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		t.Enable = val
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}
